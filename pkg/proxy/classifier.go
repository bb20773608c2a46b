package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"mercator-hq/relay/pkg/accounts"
)

// ReauthCommand is the CLI command that re-authenticates one account.
const ReauthCommand = "relay accounts reauth"

// ShellQuote quotes s for a POSIX shell: s is wrapped in single quotes and
// each embedded single quote becomes '\''.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ClassifyExhaustion builds the error returned when every candidate failed.
//
// When any OAuth-capable candidate has a refresh token that has likely
// expired, the message names those accounts and includes one
// re-authentication command per account. Otherwise the message reports how
// many accounts were attempted. Classification never retries.
func ClassifyExhaustion(provider string, failed []*accounts.Account, policy accounts.ExpiryPolicy) *ServiceUnavailableError {
	var expired []string
	for _, acct := range failed {
		if acct == nil || !acct.IsOAuth() {
			continue
		}
		if policy.IsRefreshTokenLikelyExpired(acct) {
			expired = append(expired, acct.Name)
		}
	}

	if len(expired) == 0 {
		return &ServiceUnavailableError{
			Provider: provider,
			Message:  fmt.Sprintf("All %d accounts failed to serve the request; try again later.", len(failed)),
		}
	}

	quoted := make([]string, len(expired))
	for i, name := range expired {
		quoted[i] = strconv.Quote(name)
	}

	var b strings.Builder
	if len(expired) == 1 {
		fmt.Fprintf(&b, "The refresh token for account %s has likely expired.", quoted[0])
	} else {
		fmt.Fprintf(&b, "The refresh tokens for accounts %s have likely expired.", strings.Join(quoted, ", "))
	}
	b.WriteString(" Re-authenticate with:")
	for _, name := range expired {
		b.WriteString("\n  ")
		b.WriteString(ReauthCommand)
		b.WriteByte(' ')
		b.WriteString(ShellQuote(name))
	}

	return &ServiceUnavailableError{
		Provider:        provider,
		Message:         b.String(),
		ExpiredAccounts: expired,
	}
}
