package micro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lockstep.relay.hello", Endpoint(RelayAddress("lockstep"), "hello"))
	assert.Equal(t, "lockstep.g.abc.input", Endpoint(GroupAddress("lockstep", "abc"), "input"))
	assert.Equal(t, "lockstep.c.c1.welcome", Endpoint(ConnAddress("lockstep", "c1"), "welcome"))
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subject  string
		addr     Address
		endpoint string
		wantErr  bool
	}{
		{"lockstep.relay.hello", RelayAddress("lockstep"), "hello", false},
		{"lockstep.g.abc.input", GroupAddress("lockstep", "abc"), "input", false},
		{"lockstep.g.abc.ctl.backfill", GroupAddress("lockstep", "abc"), "ctl.backfill", false},
		{"lockstep.c.c1.welcome", ConnAddress("lockstep", "c1"), "welcome", false},
		{"lockstep.g.abc", Address{}, "", true},
		{"lockstep.x.abc.input", Address{}, "", true},
		{"lockstep", Address{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			t.Parallel()
			addr, endpoint, err := ParseEndpoint(tt.subject)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, addr)
			assert.Equal(t, tt.endpoint, endpoint)
		})
	}
}
