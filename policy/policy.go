// Package policy decides whether an account may authenticate. Credential,
// OAuth and two-factor flows all call CanLogin so the rule lives in one place.
package policy

import "time"

// Account carries the fields the login policy reads.
type Account struct {
	EmailVerifiedAt *time.Time
	DeletedAt       *time.Time
}

// CanLogin is false for unverified or soft-deleted accounts.
func CanLogin(a Account) bool {
	if a.EmailVerifiedAt == nil || a.EmailVerifiedAt.IsZero() {
		return false
	}
	return a.DeletedAt == nil
}
