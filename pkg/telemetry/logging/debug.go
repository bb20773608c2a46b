package logging

import (
	"os"
	"strings"
)

// DebugEnvVars are the environment variables that switch on verbose
// per-request logging.
var DebugEnvVars = []string{"RELAY_DEBUG", "DEBUG"}

// DebugEnabled reports whether any debug environment variable holds a truthy
// value (1, true, yes, on).
func DebugEnabled() bool {
	for _, name := range DebugEnvVars {
		switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}
