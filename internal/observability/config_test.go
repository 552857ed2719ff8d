package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileModeValid(t *testing.T) {
	for _, mode := range []ProfileMode{ProfileOff, ProfileCPU, ProfileMem, ProfileTrace, ProfileBlock} {
		assert.True(t, mode.Valid(), "mode %q", mode)
	}
	assert.False(t, ProfileMode("heap").Valid())
}

func TestStartProfileOffIsNoop(t *testing.T) {
	stop := StartProfile(Config{})
	stop()
}
