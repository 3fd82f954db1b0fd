package version

import "fmt"

// Overridden at build time with -ldflags "-X".
var (
	Name      = "swapdesk"
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", Name, Version, Commit, BuildDate)
}

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return Name + "/" + Version
}
