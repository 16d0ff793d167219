package svn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// svnlook's date line starts with a fixed-width timestamp, e.g.
// "2007-05-01 19:45:39 -0600 (Tue, 01 May 2007)".
const svnlookDateLayout = "2006-01-02 15:04:05 -0700"

// NewClient creates a Client that invokes the given svnlook binary.
func NewClient(log logrus.FieldLogger, bin string) Client {
	return &client{
		log: log.WithField("component", "svn"),
		bin: bin,
	}
}

type client struct {
	log logrus.FieldLogger
	bin string
}

// Compile-time interface checks.
var (
	_ Client     = (*client)(nil)
	_ Repository = (*repository)(nil)
)

// Open validates the repository path and probes it with svnlook youngest.
func (c *client) Open(ctx context.Context, path string) (Repository, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: repository path %q: %v",
			ErrBackendUnavailable, path, err)
	}

	repo := &repository{
		log:  c.log.WithField("repository", path),
		bin:  c.bin,
		path: path,
	}

	if _, err := repo.LatestRevision(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

type repository struct {
	log  logrus.FieldLogger
	bin  string
	path string
}

func (r *repository) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin, append(args, r.path)...)

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%w: svnlook %s: %s",
				ErrBackendUnavailable, args[0],
				strings.TrimSpace(string(exitErr.Stderr)))
		}

		return "", fmt.Errorf("%w: svnlook %s: %v",
			ErrBackendUnavailable, args[0], err)
	}

	return string(out), nil
}

func (r *repository) LatestRevision(ctx context.Context) (int64, error) {
	out, err := r.run(ctx, "youngest")
	if err != nil {
		return 0, err
	}

	rev, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing youngest revision %q: %v",
			ErrBackendUnavailable, strings.TrimSpace(out), err)
	}

	return rev, nil
}

func (r *repository) RevisionInfo(
	ctx context.Context, rev int64,
) (*RevisionInfo, error) {
	out, err := r.run(ctx, "info", "-r", strconv.FormatInt(rev, 10))
	if err != nil {
		return nil, err
	}

	info, err := parseInfo(out)
	if err != nil {
		return nil, fmt.Errorf("%w: revision %d: %v",
			ErrBackendUnavailable, rev, err)
	}

	return info, nil
}

func (r *repository) Delta(ctx context.Context, rev int64) (*Delta, error) {
	out, err := r.run(ctx,
		"changed", "--copy-info", "-r", strconv.FormatInt(rev, 10))
	if err != nil {
		return nil, err
	}

	delta, err := parseChanged(out)
	if err != nil {
		return nil, fmt.Errorf("%w: revision %d: %v",
			ErrBackendUnavailable, rev, err)
	}

	return delta, nil
}

func (r *repository) Close() error {
	return nil
}

// parseInfo parses svnlook info output: author, date, log size, then the
// log message.
func parseInfo(out string) (*RevisionInfo, error) {
	lines := strings.Split(out, "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("malformed svnlook info output")
	}

	info := &RevisionInfo{
		Author: strings.TrimSpace(lines[0]),
	}

	dateLine := strings.TrimSpace(lines[1])
	if len(dateLine) >= len(svnlookDateLayout) {
		changedAt, err := time.Parse(
			svnlookDateLayout, dateLine[:len(svnlookDateLayout)],
		)
		if err != nil {
			return nil, fmt.Errorf("parsing revision date %q: %w", dateLine, err)
		}

		info.ChangedAt = changedAt.UTC()
	}

	if len(lines) > 3 {
		info.Message = strings.TrimRight(
			strings.Join(lines[3:], "\n"), "\n",
		)
	}

	return info, nil
}

// parseChanged parses svnlook changed --copy-info output into a Delta.
// Added entries followed by a "(from <path>:r<rev>)" line are raw copies.
func parseChanged(out string) (*Delta, error) {
	delta := &Delta{}

	// Tracks the most recent added entry so a following copy-info line
	// can reclassify it.
	var lastAdded *struct {
		path string
		dir  bool
	}

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}

		if from, ok := strings.CutPrefix(strings.TrimSpace(line), "(from "); ok {
			if lastAdded == nil {
				return nil, fmt.Errorf("copy info without preceding add: %q", line)
			}

			from = strings.TrimSuffix(from, ")")

			idx := strings.LastIndex(from, ":r")
			if idx < 0 {
				return nil, fmt.Errorf("malformed copy info: %q", line)
			}

			fromRev, err := strconv.ParseInt(from[idx+2:], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed copy revision: %q", line)
			}

			cp := Copy{
				Path:         lastAdded.path,
				FromPath:     strings.TrimSuffix(from[:idx], "/"),
				FromRevision: fromRev,
			}

			if lastAdded.dir {
				delta.AddedDirs = delta.AddedDirs[:len(delta.AddedDirs)-1]
				delta.CopiedDirs = append(delta.CopiedDirs, cp)
			} else {
				delta.AddedFiles = delta.AddedFiles[:len(delta.AddedFiles)-1]
				delta.CopiedFiles = append(delta.CopiedFiles, cp)
			}

			lastAdded = nil

			continue
		}

		if len(line) < 4 {
			return nil, fmt.Errorf("malformed changed line: %q", line)
		}

		status, rest := line[:2], line[4:]
		isDir := strings.HasSuffix(rest, "/")
		path := strings.TrimSuffix(rest, "/")

		lastAdded = nil

		switch status[0] {
		case 'A':
			if isDir {
				delta.AddedDirs = append(delta.AddedDirs, path)
			} else {
				delta.AddedFiles = append(delta.AddedFiles, path)
			}

			lastAdded = &struct {
				path string
				dir  bool
			}{path: path, dir: isDir}
		case 'U', '_':
			if isDir {
				delta.UpdatedDirs = append(delta.UpdatedDirs, path)
			} else {
				delta.UpdatedFiles = append(delta.UpdatedFiles, path)
			}
		case 'D':
			if isDir {
				delta.DeletedDirs = append(delta.DeletedDirs, path)
			} else {
				delta.DeletedFiles = append(delta.DeletedFiles, path)
			}
		default:
			return nil, fmt.Errorf("unknown change status %q", status)
		}
	}

	return delta, nil
}
