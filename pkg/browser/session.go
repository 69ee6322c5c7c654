// Package browser owns the Chrome instance the portal is driven through.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/logging"
)

// Options configures the browser launch
type Options struct {
	Headless      bool
	ChromeBin     string // CHROME_BIN, empty to let rod find or fetch a browser
	DownloadDir   string // where report exports are saved, empty to leave Chrome's default
	ScreenshotDir string
}

// Session is one launched browser with a single working tab
type Session struct {
	Browser *rod.Browser
	Page    *rod.Page

	launcher *launcher.Launcher
	opts     Options
	logger   logging.Logger
}

// Launch starts Chrome and opens a blank tab
func Launch(ctx context.Context, opts Options, logger logging.Logger) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger = logging.OrDefault(logger)
	logger.Info("Launching browser", "headless", opts.Headless, "downloadDir", opts.DownloadDir)

	l := launcher.New()
	if opts.ChromeBin != "" {
		l = l.Bin(opts.ChromeBin)
	}
	l = l.Headless(opts.Headless)

	// Flags needed when running inside containers
	l = l.Set("no-sandbox")
	l = l.Set("disable-gpu")
	l = l.Set("disable-dev-shm-usage")
	if !opts.Headless {
		l = l.Set("start-maximized")
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if opts.DownloadDir != "" {
		dir, err := filepath.Abs(opts.DownloadDir)
		if err != nil {
			browser.Close()
			l.Kill()
			return nil, fmt.Errorf("failed to resolve download dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			browser.Close()
			l.Kill()
			return nil, fmt.Errorf("failed to create download dir: %w", err)
		}
		opts.DownloadDir = dir

		// Browser-wide, so reports the operator downloads by hand land here too
		if err := allowDownloads(dir).Call(browser); err != nil {
			browser.Close()
			l.Kill()
			return nil, fmt.Errorf("failed to set download directory: %w", err)
		}
	}

	return &Session{
		Browser:  browser,
		Page:     page,
		launcher: l,
		opts:     opts,
		logger:   logger,
	}, nil
}

// DOM returns the working tab as a dom.Page
func (s *Session) DOM() dom.Page {
	return NewPage(s.Page)
}

// Downloads returns a download tracker for the configured directory, or nil
// when no directory was configured.
func (s *Session) Downloads() dom.Downloads {
	if s.opts.DownloadDir == "" {
		return nil
	}
	return &downloads{browser: s.Browser, dir: s.opts.DownloadDir, logger: s.logger}
}

// Screenshot captures the working tab into the screenshot directory. The
// file name gets a timestamp so repeated failures do not overwrite each other.
func (s *Session) Screenshot(name string) (string, error) {
	if s.opts.ScreenshotDir == "" {
		return "", fmt.Errorf("screenshot dir not configured")
	}
	if err := os.MkdirAll(s.opts.ScreenshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}

	data, err := s.Page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("failed to take screenshot: %w", err)
	}

	path := filepath.Join(s.opts.ScreenshotDir, screenshotName(name, time.Now()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save screenshot: %w", err)
	}
	return path, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.Browser == nil {
		return nil
	}
	err := s.Browser.Close()
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
	s.Browser = nil
	s.Page = nil
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Info("Browser closed")
	return nil
}

func screenshotName(name string, now time.Time) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "screenshot"
	}
	return fmt.Sprintf("%s_%s.png", name, now.Format("20060102_150405"))
}
