package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan is a purchasable challenge tier.  Price is what the user pays and is
// the only field Upgrade compares; StartingBalance funds the challenge.
type Plan struct {
	ID              uuid.UUID       `json:"id"               db:"id"`
	Name            string          `json:"name"             db:"name"`
	Price           decimal.Decimal `json:"price"            db:"price"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	CreatedAt       time.Time       `json:"created_at"       db:"created_at"`
}

// UpgradeRequest asks to move a challenge onto a more expensive plan.
type UpgradeRequest struct {
	ChallengeID uuid.UUID
	UserID      uuid.UUID
	NewPlanID   uuid.UUID
}

// ──────────────────────────────────────────────────────────────────────────────
// Role
// ──────────────────────────────────────────────────────────────────────────────

// Role is carried in access tokens and gates the back-office.
type Role string

const (
	RoleUser       Role = "user"       // trader
	RoleAdmin      Role = "admin"      // challenge administration
	RoleSuperAdmin Role = "superadmin" // admin plus plan management
)

// IsValid returns true for the three recognised roles.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleSuperAdmin
}

// CanAdminister returns true for admin and superadmin.
func (r Role) CanAdminister() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}
