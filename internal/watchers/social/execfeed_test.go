package social

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

func feedScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestNewExecFeed_Validation(t *testing.T) {
	_, err := NewExecFeed("", "linkedin", 0)
	assert.ErrorContains(t, err, "FEED_CMD")
	_, err = NewExecFeed("feed", "", 0)
	assert.ErrorContains(t, err, "platform")
}

func TestExecFeed_ParsesPosts(t *testing.T) {
	bin := feedScript(t, `echo '[{"id":"p1","author":"Jane","text":"hello","url":"https://x/p1","created_at":"2025-04-03T14:00:00Z"}]'`)
	f, err := NewExecFeed(bin, "linkedin", time.Minute)
	require.NoError(t, err)

	posts, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
	assert.Equal(t, "Jane", posts[0].Author)
	assert.Equal(t, 2025, posts[0].CreatedAt.Year())
}

func TestExecFeed_EmptyOutputMeansNoPosts(t *testing.T) {
	bin := feedScript(t, "exit 0")
	f, err := NewExecFeed(bin, "twitter", time.Minute)
	require.NoError(t, err)

	posts, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestExecFeed_CommandFailureIsTransient(t *testing.T) {
	bin := feedScript(t, "echo 'rate limited' >&2\nexit 1")
	f, err := NewExecFeed(bin, "twitter", time.Minute)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.FailureTransient, retry.Categorize(err))
	assert.ErrorContains(t, err, "rate limited")
}

func TestExecFeed_BadJSONIsPermanent(t *testing.T) {
	bin := feedScript(t, "echo 'not json'")
	f, err := NewExecFeed(bin, "twitter", time.Minute)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.FailurePermanent, retry.Categorize(err))
}
