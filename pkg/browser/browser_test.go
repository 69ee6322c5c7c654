package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"

	"dev/bravebird/mar-export/pkg/dom"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "element not found", err: &rod.ElementNotFoundError{}, want: dom.ErrNotFound},
		{name: "deadline", err: fmt.Errorf("wait: %w", context.DeadlineExceeded), want: dom.ErrTimeout},
		{name: "object gone", err: &rod.ObjectNotFoundError{RuntimeRemoteObject: &proto.RuntimeRemoteObject{}}, want: dom.ErrStale},
		{name: "cdp object not found", err: cdp.ErrObjNotFound, want: dom.ErrStale},
		{name: "context destroyed", err: fmt.Errorf("eval: %w", cdp.ErrCtxDestroyed), want: dom.ErrStale},
		{name: "detached node", err: errors.New("Node is detached from document"), want: dom.ErrStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	require.NoError(t, classify(nil))

	other := errors.New("element click intercepted")
	got := classify(other)
	require.Equal(t, other, got)
	require.False(t, dom.IsStale(got))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	first := uniquePath(dir, "MAR Report.csv")
	require.Equal(t, filepath.Join(dir, "MAR Report.csv"), first)
	require.NoError(t, os.WriteFile(first, []byte("a"), 0644))

	second := uniquePath(dir, "MAR Report.csv")
	require.Equal(t, filepath.Join(dir, "MAR Report (1).csv"), second)
	require.NoError(t, os.WriteFile(second, []byte("b"), 0644))

	require.Equal(t, filepath.Join(dir, "MAR Report (2).csv"), uniquePath(dir, "MAR Report.csv"))
	require.Equal(t, filepath.Join(dir, "report.csv"), uniquePath(dir, "  "))
	require.Equal(t, filepath.Join(dir, "evil.csv"), uniquePath(dir, "../../evil.csv"))
}

func TestScreenshotName(t *testing.T) {
	now := time.Date(2024, 9, 1, 14, 5, 9, 0, time.UTC)
	require.Equal(t, "login_failed_20240901_140509.png", screenshotName("login failed", now))
	require.Equal(t, "screenshot_20240901_140509.png", screenshotName("", now))
}

func TestCloseNilSession(t *testing.T) {
	var s *Session
	require.NoError(t, s.Close())
	require.NoError(t, (&Session{}).Close())
}

func TestDownloadBehaviour(t *testing.T) {
	dir := t.TempDir()

	allow := allowDownloads(dir)
	require.Equal(t, proto.BrowserSetDownloadBehaviorBehaviorAllow, allow.Behavior)
	require.Equal(t, dir, allow.DownloadPath)
	require.True(t, allow.EventsEnabled)

	named := nameDownloads(dir)
	require.Equal(t, proto.BrowserSetDownloadBehaviorBehaviorAllowAndName, named.Behavior)
	require.Equal(t, dir, named.DownloadPath)

	// Neither falls back to Chrome's default location
	for _, b := range []proto.BrowserSetDownloadBehavior{allow, named} {
		require.NotEqual(t, proto.BrowserSetDownloadBehaviorBehaviorDefault, b.Behavior)
		require.NotEmpty(t, b.DownloadPath)
	}
}
