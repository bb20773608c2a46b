package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// secretKeys are attribute keys whose values are never logged in clear.
var secretKeys = map[string]bool{
	"api_key":       true,
	"access_token":  true,
	"refresh_token": true,
	"authorization": true,
	"x-api-key":     true,
	"token":         true,
}

// tokenPattern matches provider credentials embedded in free text.
var tokenPattern = regexp.MustCompile(`(sk-ant-[a-z0-9]+-)[A-Za-z0-9_\-]+|(Bearer )[A-Za-z0-9._\-]+`)

// RedactToken masks all but the first four characters of a credential.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***"
}

// RedactString masks credentials found inside s.
func RedactString(s string) string {
	return tokenPattern.ReplaceAllString(s, "$1$2***")
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, RedactToken(a.Value.String()))
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); strings.Contains(s, "sk-ant-") || strings.Contains(s, "Bearer ") {
			return slog.String(a.Key, RedactString(s))
		}
	}
	return a
}
