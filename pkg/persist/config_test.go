package persist_test

import (
	"context"
	"testing"

	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStorageType(t *testing.T) {
	t.Parallel()

	for _, st := range []persist.StorageType{
		persist.StorageTypeNop, persist.StorageTypeMemory, persist.StorageTypeFile, persist.StorageTypeJetStream,
	} {
		parsed, err := persist.ParseStorageType(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
		assert.True(t, parsed.IsValid())
	}

	parsed, err := persist.ParseStorageType("jetstream")
	require.NoError(t, err)
	assert.Equal(t, persist.StorageTypeJetStream, parsed)

	_, err = persist.ParseStorageType("s3")
	require.Error(t, err)
	assert.False(t, persist.StorageTypeUndefined.IsValid())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := persist.Config{StorageType: "FILE", Dir: "x", Bucket: "b"}
	require.NoError(t, valid.Validate())

	noDir := valid
	noDir.Dir = ""
	require.Error(t, noDir.Validate())

	noBucket := persist.Config{StorageType: "JETSTREAM"}
	require.Error(t, noBucket.Validate())

	bad := persist.Config{StorageType: "tape"}
	require.Error(t, bad.Validate())
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := map[string]persist.Config{
		"nop":       {StorageType: "NOP"},
		"memory":    {StorageType: "MEMORY"},
		"file":      {StorageType: "FILE", Dir: t.TempDir()},
		"jetstream": {StorageType: "JETSTREAM", Bucket: "open"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			store, err := persist.Open(ctx, cfg, newKey(), newTestClient(t), newTestTelemetry())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			require.NoError(t, store.Snapshots.Put(ctx, persist.Snapshot{Tick: 1, Data: []byte{1}}))
			_, err = store.Log.Tail(ctx)
			require.NoError(t, err)
		})
	}

	_, err := persist.Open(ctx, persist.Config{StorageType: "JETSTREAM", Bucket: "x"}, newKey(), nil, newTestTelemetry())
	require.Error(t, err)
}
