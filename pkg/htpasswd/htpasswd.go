// Package htpasswd maintains the login:hash credential file consumed by
// the transport layer's basic-auth handler. Rebuilds follow a
// clear-then-repopulate policy so the file exactly reflects the current
// authorized set, removals included.
package htpasswd

import (
	"fmt"
	"os"
	"strings"

	"github.com/scmtools/revmirror/pkg/fsutil"
)

// RepoPlaceholder in a path template is replaced by the repository name
// when building per-repository credential files.
const RepoPlaceholder = ":repo"

// ExpandPath substitutes the repository placeholder in a path template.
func ExpandPath(template, repoName string) string {
	return strings.ReplaceAll(template, RepoPlaceholder, repoName)
}

// File is an in-memory credential file. Mutations are buffered until
// Flush, which atomically replaces the file on disk.
type File struct {
	path    string
	order   []string
	entries map[string]string
}

// Load reads the credential file at path. A missing file yields an empty
// File that will be created on Flush.
func Load(path string) (*File, error) {
	f := &File{
		path:    path,
		entries: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading credential file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		login, hash, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed credential line %q", line)
		}

		f.Set(login, hash)
	}

	return f, nil
}

// Get returns the stored hash for a login.
func (f *File) Get(login string) (string, bool) {
	hash, ok := f.entries[login]

	return hash, ok
}

// Set adds or replaces the entry for a login.
func (f *File) Set(login, hash string) {
	if _, ok := f.entries[login]; !ok {
		f.order = append(f.order, login)
	}

	f.entries[login] = hash
}

// RemoveAll drops every entry.
func (f *File) RemoveAll() {
	f.order = nil
	f.entries = make(map[string]string)
}

// Len returns the number of entries.
func (f *File) Len() int {
	return len(f.entries)
}

// Flush atomically replaces the file on disk with the buffered entries,
// in insertion order.
func (f *File) Flush() error {
	var sb strings.Builder

	for _, login := range f.order {
		sb.WriteString(login)
		sb.WriteString(":")
		sb.WriteString(f.entries[login])
		sb.WriteString("\n")
	}

	if err := fsutil.WriteFileAtomic(f.path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("flushing credential file: %w", err)
	}

	return nil
}
