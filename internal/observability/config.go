package observability

// ProfileMode selects the runtime profile collected for the process lifetime.
type ProfileMode string

const (
	ProfileOff   ProfileMode = ""
	ProfileCPU   ProfileMode = "cpu"
	ProfileMem   ProfileMode = "mem"
	ProfileTrace ProfileMode = "trace"
	ProfileBlock ProfileMode = "block"
)

func (m ProfileMode) Valid() bool {
	switch m {
	case ProfileOff, ProfileCPU, ProfileMem, ProfileTrace, ProfileBlock:
		return true
	default:
		return false
	}
}

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	Profile ProfileMode `yaml:"profile,omitempty" json:"profile,omitempty" jsonschema:"enum=,enum=cpu,enum=mem,enum=trace,enum=block"`
	// ProfilePath is the directory profiles are written to.
	ProfilePath string `yaml:"profile_path,omitempty" json:"profile_path,omitempty"`
}
