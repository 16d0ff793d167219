package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/scmtools/revmirror/pkg/config"
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/scmtools/revmirror/pkg/svn"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Sweeper invalidates externally cached renderings of repository content.
// The engine only fires the signal; it does not own the cache.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Engine mirrors unseen revisions into the store, repository by
// repository, strictly in revision order. One engine instance owns its
// backend handles; a repository must not be synced concurrently with
// itself.
type Engine struct {
	log     logrus.FieldLogger
	cfg     *config.SyncConfig
	store   store.Store
	client  svn.Client
	sweeper Sweeper
	limiter *rate.Limiter

	mu      gosync.Mutex
	handles map[string]svn.Repository
}

// NewEngine creates a sync engine. A nil sweeper disables cache
// invalidation.
func NewEngine(
	log logrus.FieldLogger,
	cfg *config.SyncConfig,
	s store.Store,
	client svn.Client,
	sweeper Sweeper,
) *Engine {
	e := &Engine{
		log:     log.WithField("component", "sync"),
		cfg:     cfg,
		store:   s,
		client:  client,
		sweeper: sweeper,
		handles: make(map[string]svn.Repository),
	}

	if cfg.MaxRevsPerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRevsPerSec), 1)
	}

	return e
}

// open returns a pooled backend handle for the repository path, opening
// one on first use. Handles live until Close.
func (e *Engine) open(ctx context.Context, path string) (svn.Repository, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if repo, ok := e.handles[path]; ok {
		return repo, nil
	}

	repo, err := e.client.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	e.handles[path] = repo

	return repo, nil
}

// Close releases every pooled backend handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error

	for path, repo := range e.handles {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing handle for %s: %w", path, err)
		}

		delete(e.handles, path)
	}

	return firstErr
}

// Sync mirrors every unseen revision of one repository, up to maxCount
// revisions when maxCount is positive. It resumes from the last durably
// recorded revision, so re-running after any failure is always safe and
// never re-ingests a revision.
func (e *Engine) Sync(
	ctx context.Context, repo *store.Repository, maxCount int,
) error {
	log := e.log.WithField("repository", repo.Name)

	backend, err := e.open(ctx, repo.Path)
	if err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	last, err := e.store.LastRecordedRevision(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	end, err := backend.LatestRevision(ctx)
	if err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	start := last + 1
	if start > end {
		log.Debug("Already caught up")

		return nil
	}

	if maxCount > 0 && end-start+1 > int64(maxCount) {
		end = start + int64(maxCount) - 1
	}

	log.WithFields(logrus.Fields{
		"from": start,
		"to":   end,
	}).Info("Syncing revisions")

	committer := newBatchCommitter(e.store, e.cfg.BatchSize)

	// Most recent changed-at wins per author across the whole run.
	authors := make(map[string]time.Time)

	for rev := start; rev <= end; rev++ {
		if err := ctx.Err(); err != nil {
			committer.Rollback()

			return fmt.Errorf("repository %s: %w", repo.Name, err)
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				committer.Rollback()

				return fmt.Errorf("repository %s: %w", repo.Name, err)
			}
		}

		tx, err := committer.Tx(ctx)
		if err != nil {
			return fmt.Errorf("repository %s: %w", repo.Name, err)
		}

		cs, err := ingest(ctx, tx, repo, backend, rev)
		if err != nil {
			committer.Rollback()

			return fmt.Errorf("repository %s: %w", repo.Name, err)
		}

		if prev, ok := authors[cs.Author]; !ok || cs.ChangedAt.After(prev) {
			authors[cs.Author] = cs.ChangedAt
		}

		committed, err := committer.Step(ctx)
		if err != nil {
			return fmt.Errorf("repository %s: %w", repo.Name, err)
		}

		if committed {
			log.WithField("revision", rev).Debug("Committed batch")
		}
	}

	// The aggregation runs inside the final transaction so permission
	// stats are never observably stale outside a sync transaction.
	tx, err := committer.Tx(ctx)
	if err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	if err := aggregate(tx, repo.ID, authors); err != nil {
		committer.Rollback()

		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	if err := committer.Commit(); err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	e.sweep(ctx, log)

	log.WithField("revision", end).Info("Sync complete")

	return nil
}

// SyncAll syncs every known repository with bounded concurrency. A
// failure on one repository does not prevent attempting the others; the
// returned error names every repository that failed.
func (e *Engine) SyncAll(ctx context.Context, maxCount int) error {
	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return err
	}

	var (
		mu     gosync.Mutex
		failed []string
	)

	var g errgroup.Group

	g.SetLimit(e.cfg.Concurrency)

	for i := range repos {
		repo := repos[i]

		g.Go(func() error {
			if err := e.Sync(ctx, &repo, maxCount); err != nil {
				e.log.WithError(err).
					WithField("repository", repo.Name).
					Error("Repository sync failed")

				mu.Lock()
				failed = append(failed, repo.Name)
				mu.Unlock()
			}

			return nil
		})
	}

	// Workers report failures through failed, never as errors.
	_ = g.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("sync failed for repositories: %s",
			strings.Join(failed, ", "))
	}

	return nil
}

// Repair recomputes the denormalized permission stats for one repository
// from its recorded changesets, without touching the backend. Useful
// after manual permission edits.
func (e *Engine) Repair(ctx context.Context, repo *store.Repository) error {
	authors, err := e.store.ChangesetAuthors(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	if err := aggregate(tx, repo.ID, authors); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository %s: %w", repo.Name, err)
	}

	e.sweep(ctx, e.log.WithField("repository", repo.Name))

	return nil
}

func (e *Engine) sweep(ctx context.Context, log logrus.FieldLogger) {
	if e.sweeper == nil {
		return
	}

	if err := e.sweeper.Sweep(ctx); err != nil {
		log.WithError(err).Warn("Cache sweep failed")
	}
}
