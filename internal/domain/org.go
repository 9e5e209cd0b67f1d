package domain

import "github.com/dimfeld/ergo/internal/objectid"

// Org scopes tasks, accounts, and API keys. Named only where spec.md's
// Task tuple and Account entity reference org_id; recovered from
// original_source's database schema, which defines the org as a first
// class row the distilled spec never spells out.
type Org struct {
	OrgID objectid.OrgID `json:"org_id"`
	Name  string         `json:"name"`
}
