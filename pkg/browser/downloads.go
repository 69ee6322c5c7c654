package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/logging"
)

// downloads waits for browser downloads into dir. While a download is
// expected Chrome saves the file under its download GUID; once complete it
// is renamed to the name the portal suggested. Outside of Expect the
// browser-wide behaviour set by Launch applies, so downloads the operator
// starts by hand also land in dir.
type downloads struct {
	browser *rod.Browser
	dir     string
	logger  logging.Logger
}

var _ dom.Downloads = (*downloads)(nil)

func (d *downloads) Expect(ctx context.Context) (func(timeout time.Duration) (string, error), func()) {
	waitCtx, cancel := context.WithCancel(ctx)

	if err := nameDownloads(d.dir).Call(d.browser); err != nil {
		d.logger.Warn("Failed to switch download naming", "error", err)
	}

	var (
		start *proto.PageDownloadWillBegin
		state proto.PageDownloadProgressState
	)
	progress := d.browser.Context(waitCtx).EachEvent(func(e *proto.PageDownloadWillBegin) {
		start = e
	}, func(e *proto.PageDownloadProgress) bool {
		if start == nil || start.GUID != e.GUID {
			return false
		}
		state = e.State
		return state == proto.PageDownloadProgressStateCompleted || state == proto.PageDownloadProgressStateCanceled
	})

	// release restores the browser-wide behaviour on the session's own
	// context, which outlives waitCtx.
	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			if err := allowDownloads(d.dir).Call(d.browser); err != nil {
				d.logger.Warn("Failed to restore download behaviour", "dir", d.dir, "error", err)
			}
		})
	}

	wait := func(timeout time.Duration) (string, error) {
		defer release()

		var expired atomic.Bool
		timer := time.AfterFunc(timeout, func() {
			expired.Store(true)
			cancel()
		})
		progress()
		timer.Stop()

		if expired.Load() {
			return "", fmt.Errorf("%w: download did not complete within %s", dom.ErrTimeout, timeout)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if start == nil {
			return "", errors.New("download did not start")
		}
		if state == proto.PageDownloadProgressStateCanceled {
			return "", fmt.Errorf("download of %s was canceled", start.SuggestedFilename)
		}

		saved := filepath.Join(d.dir, start.GUID)
		if _, err := os.Stat(saved); err != nil {
			return "", fmt.Errorf("downloaded file missing: %w", err)
		}

		target := uniquePath(d.dir, start.SuggestedFilename)
		if err := os.Rename(saved, target); err != nil {
			return "", fmt.Errorf("failed to rename download: %w", err)
		}
		d.logger.Info("Download complete", "file", target, "url", start.URL)
		return target, nil
	}
	return wait, release
}

// allowDownloads saves downloads into dir under their own names
func allowDownloads(dir string) proto.BrowserSetDownloadBehavior {
	return proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath:  dir,
		EventsEnabled: true,
	}
}

// nameDownloads saves downloads into dir under their GUID
func nameDownloads(dir string) proto.BrowserSetDownloadBehavior {
	return proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  dir,
		EventsEnabled: true,
	}
}

// uniquePath returns dir/name, adding " (n)" before the extension when the
// file already exists.
func uniquePath(dir, name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "report.csv"
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
	}
}
