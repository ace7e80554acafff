// Package buildinfo exposes release metadata stamped in at link time.
package buildinfo

// Set with -ldflags "-X github.com/pesacore/pesacore/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
