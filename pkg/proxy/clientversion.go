package proxy

import (
	"strings"
	"sync/atomic"
)

// clientInfo is the most recently seen parsable client identity.
type clientInfo struct {
	name    string
	version string
}

var trackedClient atomic.Pointer[clientInfo]

// ParseUserAgent extracts the product name and version from the first token
// of a User-Agent such as "claude-cli/1.0.83 (external, cli)".
func ParseUserAgent(userAgent string) (name, version string, ok bool) {
	token, _, _ := strings.Cut(strings.TrimSpace(userAgent), " ")
	name, version, found := strings.Cut(token, "/")
	if !found || name == "" || version == "" {
		return "", "", false
	}
	if version[0] < '0' || version[0] > '9' {
		return "", "", false
	}
	return name, version, true
}

// TrackClientVersion remembers the client identity from userAgent. Requests
// the relay issues on its own, such as token refreshes or requests from
// clients that send no User-Agent, reuse it. An absent or unparsable value is
// ignored.
func TrackClientVersion(userAgent string) {
	name, version, ok := ParseUserAgent(userAgent)
	if !ok {
		return
	}
	if cur := trackedClient.Load(); cur != nil && cur.name == name && cur.version == version {
		return
	}
	trackedClient.Store(&clientInfo{name: name, version: version})
}

// ClientVersion returns the tracked client as "name/version", or "" when no
// client has been seen.
func ClientVersion() string {
	cur := trackedClient.Load()
	if cur == nil {
		return ""
	}
	return cur.name + "/" + cur.version
}

// resetClientVersion clears the tracked client. Used by tests.
func resetClientVersion() {
	trackedClient.Store(nil)
}
