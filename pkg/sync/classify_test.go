package sync

import (
	"testing"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/scmtools/revmirror/pkg/svn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		delta *svn.Delta
		want  []store.Change
	}{
		{
			name: "adds and updates",
			delta: &svn.Delta{
				AddedDirs:    []string{"trunk/newdir"},
				AddedFiles:   []string{"trunk/newdir/a.txt"},
				UpdatedFiles: []string{"trunk/b.txt"},
			},
			want: []store.Change{
				{Kind: store.KindAdd, Path: "trunk/newdir"},
				{Kind: store.KindAdd, Path: "trunk/newdir/a.txt"},
				{Kind: store.KindModify, Path: "trunk/b.txt"},
			},
		},
		{
			name: "copy with deleted source is a move",
			delta: &svn.Delta{
				DeletedFiles: []string{"a/old.txt"},
				CopiedFiles: []svn.Copy{
					{Path: "a/new.txt", FromPath: "a/old.txt", FromRevision: 5},
				},
			},
			want: []store.Change{
				{
					Kind:         store.KindMove,
					Path:         "a/new.txt",
					FromPath:     "a/old.txt",
					FromRevision: 5,
				},
			},
		},
		{
			name: "copy with surviving source stays a copy",
			delta: &svn.Delta{
				CopiedFiles: []svn.Copy{
					{Path: "a/new.txt", FromPath: "a/old.txt", FromRevision: 5},
				},
			},
			want: []store.Change{
				{
					Kind:         store.KindCopy,
					Path:         "a/new.txt",
					FromPath:     "a/old.txt",
					FromRevision: 5,
				},
			},
		},
		{
			name: "unpaired deletions survive",
			delta: &svn.Delta{
				DeletedDirs:  []string{"trunk/gone"},
				DeletedFiles: []string{"a/old.txt", "b/other.txt"},
				CopiedFiles: []svn.Copy{
					{Path: "a/new.txt", FromPath: "a/old.txt", FromRevision: 9},
				},
			},
			want: []store.Change{
				{
					Kind:         store.KindMove,
					Path:         "a/new.txt",
					FromPath:     "a/old.txt",
					FromRevision: 9,
				},
				{Kind: store.KindDelete, Path: "trunk/gone"},
				{Kind: store.KindDelete, Path: "b/other.txt"},
			},
		},
		{
			name: "moved directory",
			delta: &svn.Delta{
				DeletedDirs: []string{"trunk/olddir"},
				CopiedDirs: []svn.Copy{
					{Path: "trunk/newdir", FromPath: "trunk/olddir", FromRevision: 12},
				},
			},
			want: []store.Change{
				{
					Kind:         store.KindMove,
					Path:         "trunk/newdir",
					FromPath:     "trunk/olddir",
					FromRevision: 12,
				},
			},
		},
		{
			name:  "empty delta",
			delta: &svn.Delta{},
			want:  []store.Change{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.delta)
			require.Len(t, got, len(tt.want))

			for i, want := range tt.want {
				assert.Equal(t, want.Kind, got[i].Kind)
				assert.Equal(t, want.Path, got[i].Path)
				assert.Equal(t, want.FromPath, got[i].FromPath)
				assert.Equal(t, want.FromRevision, got[i].FromRevision)
			}
		})
	}
}
