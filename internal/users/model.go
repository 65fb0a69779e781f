package users

import "time"

// AttorneyStatus tracks bar-verification progress for a user account.
type AttorneyStatus string

const (
	AttorneyNone     AttorneyStatus = "none"
	AttorneyPending  AttorneyStatus = "pending"
	AttorneyVerified AttorneyStatus = "verified"
	AttorneyRejected AttorneyStatus = "rejected"
)

// Tier is a subscription tier, ordered scout < operator < sovereign.
type Tier string

const (
	TierScout     Tier = "scout"
	TierOperator  Tier = "operator"
	TierSovereign Tier = "sovereign"
)

// User represents a platform account: identity, tier membership,
// verification state, and admin flag.
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	Tier           Tier
	EmailVerified  bool
	AttorneyStatus AttorneyStatus
	BarNumber      string
	IsAdmin        bool
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
