package testutils

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
)

// RunNATS starts an in-process NATS server with JetStream enabled, meant to be called from
// TestMain. The returned function shuts it down and removes its store directory.
func RunNATS(name string) (*server.Server, func()) {
	tempDir := filepath.Join(os.TempDir(), "nats-test-"+name+"-"+strconv.Itoa(os.Getpid()))

	// Uses modified values of NATS's own default test server config.
	opts := &server.Options{
		Host:                  "127.0.0.1",
		Port:                  -1, // Random available port
		NoLog:                 true,
		NoSigs:                true,
		MaxControlLine:        4096,
		DisableShortFirstPing: true,
		JetStream:             true,
		StoreDir:              tempDir,
	}

	srv := test.RunServer(opts)
	return srv, func() {
		srv.Shutdown()
		if err := os.RemoveAll(tempDir); err != nil {
			log.Printf("failed to remove temp dir: %v", err)
		}
	}
}
