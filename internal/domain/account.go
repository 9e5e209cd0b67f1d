package domain

import (
	"time"

	"github.com/dimfeld/ergo/internal/objectid"
)

// Account holds credentials an action's executor can merge into its
// payload (spec.md §4.F step 4). Fields are stored encrypted at rest via
// pkg/crypto; Fields here is the decrypted view used once the
// action-execution engine has loaded and decrypted the row.
type Account struct {
	AccountID objectid.AccountID `json:"account_id"`
	OrgID     objectid.OrgID     `json:"org_id"`
	Name      string             `json:"name" validate:"required"`
	Fields    map[string]any     `json:"fields"`
	Expires   *time.Time         `json:"expires,omitempty"`
}

// Expired reports whether the account's credentials have passed their
// expiry, per spec.md §4.F step 3 and §7's AccountExpired error.
func (a Account) Expired(now time.Time) bool {
	return a.Expires != nil && now.After(*a.Expires)
}
