package version

var (
	// Version is the agent release reported to the control plane.
	// Populated by the build system (ldflags); the fallback tracks the
	// current release tag.
	Version = "v0.4.2"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
