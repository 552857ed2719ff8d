package observability

import (
	"github.com/pkg/profile"
)

// StartProfile begins the configured profile and returns the function that
// flushes it. With profiling off the returned function does nothing.
func StartProfile(cfg Config) func() {
	var mode func(*profile.Profile)
	switch cfg.Profile {
	case ProfileCPU:
		mode = profile.CPUProfile
	case ProfileMem:
		mode = profile.MemProfile
	case ProfileTrace:
		mode = profile.TraceProfile
	case ProfileBlock:
		mode = profile.BlockProfile
	default:
		return func() {}
	}
	options := []func(*profile.Profile){mode, profile.NoShutdownHook, profile.Quiet}
	if cfg.ProfilePath != "" {
		options = append(options, profile.ProfilePath(cfg.ProfilePath))
	}
	return profile.Start(options...).Stop
}
