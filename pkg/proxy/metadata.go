package proxy

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"mercator-hq/relay/pkg/telemetry/logging"
)

// SessionHeader lets a client name its own affinity key for sticky account
// selection.
const SessionHeader = "X-Relay-Session"

// RequestMetadata describes one proxied request. It is created once per
// request and owned by the request goroutine.
type RequestMetadata struct {
	// ID is the request ID assigned by the request ID middleware, or a new
	// UUID when the request did not pass through it.
	ID string

	Method string
	Path   string

	// Target is the upstream URL the request is forwarded to.
	Target string

	Timestamp time.Time

	UserAgent string

	// ClientName and ClientVersion are parsed from the User-Agent when it
	// has the form "name/version".
	ClientName    string
	ClientVersion string

	// SessionKey identifies the client for sticky selection: the
	// X-Relay-Session header, or the remote host.
	SessionKey string

	// AgentUsed is the agent detected by interception, set before account
	// selection.
	AgentUsed string
}

// CreateRequestMetadata builds the metadata for r forwarded to target.
func CreateRequestMetadata(r *http.Request, target *url.URL) *RequestMetadata {
	id := logging.GetRequestID(r.Context())
	if id == "" {
		id = uuid.New().String()
	}

	meta := &RequestMetadata{
		ID:        id,
		Method:    r.Method,
		Path:      r.URL.Path,
		Timestamp: time.Now(),
		UserAgent: r.UserAgent(),
	}
	if target != nil {
		meta.Target = target.String()
	}
	if name, version, ok := ParseUserAgent(meta.UserAgent); ok {
		meta.ClientName = name
		meta.ClientVersion = version
	}

	meta.SessionKey = r.Header.Get(SessionHeader)
	if meta.SessionKey == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		meta.SessionKey = host
	}
	return meta
}
