package config

// Set at link time, for example:
//
//	go build -ldflags "-X tileseam/internal/config.version=0.4.0 \
//	    -X tileseam/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X tileseam/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/resegment
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
