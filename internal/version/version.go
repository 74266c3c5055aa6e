package version

// Version contains the application version information.
// It is set at build time via ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/sitegen/internal/version.Version=v1.0.0".
var Version = "unknown"
