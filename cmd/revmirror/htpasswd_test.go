package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	calls        []string
	preflightErr error
	uploadErr    error
}

func (f *fakeUploader) Preflight(_ context.Context) error {
	f.calls = append(f.calls, "preflight")

	return f.preflightErr
}

func (f *fakeUploader) UploadFile(_ context.Context, path string) error {
	f.calls = append(f.calls, "upload "+path)

	return f.uploadErr
}

func TestPushArtifactRunsPreflightFirst(t *testing.T) {
	uploader := &fakeUploader{}

	err := pushArtifact(context.Background(), uploader, "/tmp/htpasswd")
	require.NoError(t, err)

	assert.Equal(t, []string{"preflight", "upload /tmp/htpasswd"}, uploader.calls)
}

func TestPushArtifactFailsFastOnPreflightError(t *testing.T) {
	uploader := &fakeUploader{preflightErr: fmt.Errorf("bucket not writable")}

	err := pushArtifact(context.Background(), uploader, "/tmp/htpasswd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload preflight")

	assert.Equal(t, []string{"preflight"}, uploader.calls)
}
