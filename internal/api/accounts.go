package api

import (
	"context"

	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
	"github.com/surplustrust/platform/internal/users"
)

// userLookup is the subset of *users.Service the access gate adapters
// need.
type userLookup interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// accountLookup adapts a userLookup into access.AccountLookup.
type accountLookup struct {
	users userLookup
}

func newAccountLookup(u userLookup) *accountLookup {
	return &accountLookup{users: u}
}

func (a *accountLookup) GetAccount(ctx context.Context, userID string) (*access.Account, error) {
	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &access.Account{
		ID:             u.ID,
		Tier:           string(u.Tier),
		Active:         u.Active,
		EmailVerified:  u.EmailVerified,
		AttorneyStatus: string(u.AttorneyStatus),
		BarNumber:      u.BarNumber,
		IsAdmin:        u.IsAdmin,
	}, nil
}

// leadGetter is the subset of *lead.Repository the status-lookup
// adapter needs.
type leadGetter interface {
	Get(ctx context.Context, id string) (*lead.Lead, error)
}

// leadStatusLookup adapts a lead repository plus a clock into
// access.LeadStatusLookup, computing runtime status on demand so
// RestrictedUnlock always re-checks eligibility at request time.
type leadStatusLookup struct {
	leads             leadGetter
	restrictionMonths int
	clock             lifecycle.Clock
}

func newLeadStatusLookup(leads leadGetter, restrictionMonths int, clock lifecycle.Clock) *leadStatusLookup {
	if clock == nil {
		clock = lifecycle.RealClock{}
	}
	return &leadStatusLookup{leads: leads, restrictionMonths: restrictionMonths, clock: clock}
}

func (l *leadStatusLookup) RuntimeStatus(ctx context.Context, leadID string) (string, error) {
	lv, err := l.leads.Get(ctx, leadID)
	if err != nil {
		return "", err
	}
	return string(lifecycle.Status(lv, l.clock.Now(), l.restrictionMonths)), nil
}
