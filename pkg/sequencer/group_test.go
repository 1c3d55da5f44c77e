package sequencer

import (
	"context"
	"testing"
	"time"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloForCollidingVersionIsDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	s, err := New(DefaultConfig("s3cret"))
	require.NoError(t, err)
	s.Hello(ctx, protocol.Hello{VersionID: "v1", Secret: "s3cret"}, "r1", now)
	s.Drain()

	// Another version that hashes to the same group key.
	g := s.groups[protocol.GroupKeyOf("v1")]
	require.NotNil(t, g)
	g.version = "v1-colliding"

	s.Hello(ctx, protocol.Hello{VersionID: "v1", Secret: "s3cret"}, "r2", now)
	out, _ := s.Drain()
	assert.Empty(t, out)
	assert.Equal(t, uint64(1), s.Stats().SilentDrops)
	assert.Len(t, g.conns, 1)
	assert.Len(t, s.groups, 1)
}

func TestUnstartedGroup(t *testing.T) {
	t.Parallel()

	g := &group{nextClose: 1}
	assert.True(t, g.unstarted())

	g.inFlight = true
	assert.False(t, g.unstarted())

	g.inFlight = false
	g.nextClose = 2
	assert.False(t, g.unstarted())
}
