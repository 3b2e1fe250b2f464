// Command challengectl administers the challenge ledger from a shell: it
// runs migrations, inspects challenges and applies the same administrative
// mutations as the back-office.
package main

import (
	"os"

	"github.com/tradesense/challenge/cmd/challengectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
