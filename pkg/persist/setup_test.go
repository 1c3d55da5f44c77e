package persist_test

import (
	"context"
	"os"
	"testing"

	"github.com/argus-labs/lockstep/pkg/micro"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/argus-labs/lockstep/pkg/testutils"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testNATS *server.Server

func TestMain(m *testing.M) {
	var shutdown func()
	testNATS, shutdown = testutils.RunNATS("persist")

	code := m.Run()

	shutdown()
	os.Exit(code)
}

func newTestTelemetry() *telemetry.Telemetry {
	tel := telemetry.NewNop("persist-test")
	return &tel
}

func newTestClient(t *testing.T) *micro.Client {
	t.Helper()
	c, err := micro.NewClient(
		micro.WithNATSConfig(micro.NATSConfig{Name: "persist-test", URL: testNATS.ClientURL()}),
		micro.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()
	js, err := newTestClient(t).JetStream()
	require.NoError(t, err)
	return js
}

func newKey() persist.Key {
	return persist.Key{VersionID: "pong/1.0.0", SessionID: uuid.NewString()}
}

func snapshotStores(t *testing.T) map[string]func(persist.Key) persist.SnapshotStore {
	t.Helper()
	root := t.TempDir()
	return map[string]func(persist.Key) persist.SnapshotStore{
		"memory": func(persist.Key) persist.SnapshotStore { return persist.NewMemorySnapshotStore() },
		"file": func(key persist.Key) persist.SnapshotStore {
			s, err := persist.NewFileSnapshotStore(root, key)
			require.NoError(t, err)
			return s
		},
		"jetstream": func(key persist.Key) persist.SnapshotStore {
			s, err := persist.NewJetStreamSnapshotStore(context.Background(), newJetStream(t), "test", 0, key)
			require.NoError(t, err)
			return s
		},
	}
}

func coldLogs(t *testing.T) map[string]func(persist.Key) persist.ColdLog {
	t.Helper()
	root := t.TempDir()
	return map[string]func(persist.Key) persist.ColdLog{
		"memory": func(persist.Key) persist.ColdLog { return persist.NewMemoryColdLog() },
		"file": func(key persist.Key) persist.ColdLog {
			l, err := persist.OpenFileColdLog(root, key, 256)
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
		"jetstream": func(key persist.Key) persist.ColdLog {
			l, err := persist.NewJetStreamColdLog(context.Background(), newJetStream(t), "test", key, newTestTelemetry())
			require.NoError(t, err)
			return l
		},
	}
}
