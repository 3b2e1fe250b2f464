package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tradesense/challenge/internal/domain"
)

// newTokenCmd mints an access token.  Credentials live with the upstream
// identity provider; this is for operators and local testing.
func newTokenCmd(env func() *Env) *cobra.Command {
	var user, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user id and role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uid := uuid.New()
			if user != "" {
				var err error
				if uid, err = uuid.Parse(user); err != nil {
					return fmt.Errorf("--user: %w", err)
				}
			}
			tok, err := env().Auth.IssueAccessToken(uid, domain.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject user id (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "user, admin or superadmin")
	return cmd
}
