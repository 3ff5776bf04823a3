// Package version holds build information for the sync agent.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/bacoco/DevFlow-sub010/internal/version.Version=1.0.0 \
//	                   -X github.com/bacoco/DevFlow-sub010/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/bacoco/DevFlow-sub010/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/syncagent
package version

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns the full version line printed by --version.
func String() string {
	return "syncagent " + Version + " (" + Commit + ") built " + BuildTime
}

// Short returns the version with the commit, as reported by /status.
func Short() string {
	return Version + "+" + Commit
}
