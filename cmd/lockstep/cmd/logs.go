package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/rotisserie/eris"
)

// readLog reads every entry of the file cold log in dir. Unlike opening the log for writing, a
// missing directory is an error.
func readLog(ctx context.Context, dir string) (entries []msglog.Entry, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open log %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("%s is not a log directory", dir)
	}

	log, err := persist.OpenFileColdLogDir(dir, 0)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, log.Close()) }()

	return persist.ReadEntries(ctx, log)
}
