package accounts

import "time"

// ExpiryPolicy decides whether an account's refresh token has likely
// expired. The upstream gives no direct signal, so the decision is a
// heuristic over the account's recorded history.
type ExpiryPolicy struct {
	// RefreshTokenLifetime is how long after the access token expired an
	// unused refresh token is still assumed valid. Zero disables the age
	// check.
	RefreshTokenLifetime time.Duration

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// IsRefreshTokenLikelyExpired reports whether acct needs re-authentication.
//
// Accounts without a refresh token are never expired. An OAuth account is
// likely expired when its credentials were rejected after its last
// successful use, or when its access token lapsed longer ago than
// RefreshTokenLifetime.
func (p ExpiryPolicy) IsRefreshTokenLikelyExpired(acct *Account) bool {
	if acct == nil || !acct.IsOAuth() {
		return false
	}

	if !acct.LastAuthFailure.IsZero() && acct.LastAuthFailure.After(acct.LastUsed) {
		return true
	}

	if p.RefreshTokenLifetime > 0 && !acct.ExpiresAt.IsZero() {
		now := time.Now()
		if p.Now != nil {
			now = p.Now()
		}
		return now.Sub(acct.ExpiresAt) > p.RefreshTokenLifetime
	}

	return false
}
