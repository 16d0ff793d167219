package svn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInfo(t *testing.T) {
	out := "sally\n" +
		"2007-05-01 19:45:39 -0600 (Tue, 01 May 2007)\n" +
		"16\n" +
		"Rearrange lunch.\n"

	info, err := parseInfo(out)
	require.NoError(t, err)

	assert.Equal(t, "sally", info.Author)
	assert.Equal(t, "Rearrange lunch.", info.Message)
	assert.Equal(t,
		time.Date(2007, 5, 2, 1, 45, 39, 0, time.UTC), info.ChangedAt)
}

func TestParseInfoMultilineMessage(t *testing.T) {
	out := "harry\n" +
		"2007-05-01 19:45:39 +0000 (Tue, 01 May 2007)\n" +
		"24\n" +
		"First line.\n\nThird line.\n"

	info, err := parseInfo(out)
	require.NoError(t, err)
	assert.Equal(t, "First line.\n\nThird line.", info.Message)
}

func TestParseInfoMalformed(t *testing.T) {
	_, err := parseInfo("only-author\n")
	require.Error(t, err)
}

func TestParseChanged(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Delta
	}{
		{
			name: "adds updates deletes",
			out: "A   trunk/vendors/deli/\n" +
				"A   trunk/vendors/deli/sandwich.txt\n" +
				"U   trunk/vendors/baker/bagel.txt\n" +
				"_U  trunk/vendors/baker/\n" +
				"UU  trunk/vendors/baker/pretzel.txt\n" +
				"D   trunk/vendors/snacks/\n" +
				"D   trunk/vendors/snacks/chips.txt\n",
			want: Delta{
				AddedDirs:    []string{"trunk/vendors/deli"},
				AddedFiles:   []string{"trunk/vendors/deli/sandwich.txt"},
				UpdatedDirs:  []string{"trunk/vendors/baker"},
				UpdatedFiles: []string{"trunk/vendors/baker/bagel.txt", "trunk/vendors/baker/pretzel.txt"},
				DeletedDirs:  []string{"trunk/vendors/snacks"},
				DeletedFiles: []string{"trunk/vendors/snacks/chips.txt"},
			},
		},
		{
			name: "copied file",
			out: "A + trunk/new.txt\n" +
				"    (from trunk/old.txt:r5)\n",
			want: Delta{
				CopiedFiles: []Copy{
					{Path: "trunk/new.txt", FromPath: "trunk/old.txt", FromRevision: 5},
				},
			},
		},
		{
			name: "copied dir alongside plain add",
			out: "A + trunk/newdir/\n" +
				"    (from trunk/olddir/:r12)\n" +
				"A   trunk/plain.txt\n" +
				"D   trunk/olddir/\n",
			want: Delta{
				AddedFiles:  []string{"trunk/plain.txt"},
				DeletedDirs: []string{"trunk/olddir"},
				CopiedDirs: []Copy{
					{Path: "trunk/newdir", FromPath: "trunk/olddir", FromRevision: 12},
				},
			},
		},
		{
			name: "empty output",
			out:  "",
			want: Delta{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseChanged(tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseChangedMalformed(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"unknown status", "X   trunk/what\n"},
		{"orphan copy info", "    (from trunk/old.txt:r5)\n"},
		{"copy info without revision", "A + trunk/new.txt\n    (from trunk/old.txt)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseChanged(tt.out)
			require.Error(t, err)
		})
	}
}
