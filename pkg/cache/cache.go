// Package cache signals invalidation to the external render cache. The
// cache itself is owned by the web layer; revmirror only sweeps it after
// a sync changes what a rendering would show.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DirSweeper removes every cached rendering under a directory, keeping
// the directory itself.
type DirSweeper struct {
	log logrus.FieldLogger
	dir string
}

// NewDirSweeper creates a sweeper for the given cache directory.
func NewDirSweeper(log logrus.FieldLogger, dir string) *DirSweeper {
	return &DirSweeper{
		log: log.WithField("component", "cache"),
		dir: dir,
	}
}

// Sweep deletes all entries under the cache directory. A missing
// directory is not an error.
func (s *DirSweeper) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading cache dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("removing cached entry %s: %w", entry.Name(), err)
		}
	}

	s.log.WithField("entries", len(entries)).Debug("Render cache swept")

	return nil
}
