package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"dev/bravebird/mar-export/pkg/api"
	"dev/bravebird/mar-export/pkg/browser"
	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/config"
	"dev/bravebird/mar-export/pkg/consolidate"
	"dev/bravebird/mar-export/pkg/database"
	"dev/bravebird/mar-export/pkg/dropdown"
	"dev/bravebird/mar-export/pkg/names"
	"dev/bravebird/mar-export/pkg/operator"
	"dev/bravebird/mar-export/pkg/portal"
)

// app is one operator session: a terminal, a signed-in browser and the
// optional run history.
type app struct {
	cfg    config.Config
	term   *operator.Terminal
	out    io.Writer
	logger *slog.Logger

	// Run history; nil interfaces when no database is available
	db      *database.DB
	history chunking.History
	hub     *api.Hub

	// keepDownloads skips cleaning the download directory, so a resumed
	// run still merges the reports of its earlier chunks.
	keepDownloads bool

	session  *browser.Session
	engine   *dropdown.Engine
	reporter *portal.Reporter
}

func newApp(c config.Config) *app {
	return &app{
		cfg:    c,
		term:   operator.New(os.Stdin, os.Stdout),
		out:    os.Stdout,
		logger: slog.Default(),
		hub:    api.NewHub(),
	}
}

// openHistory connects the configured history database. A failure only
// disables history.
func (a *app) openHistory() {
	db, err := database.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		a.logger.Warn("Failed to open history database, running without run history", "driver", a.cfg.Database.Driver, "error", err)
		return
	}
	a.db = db
	a.history = db
}

// store returns the history as an api.Store, nil when there is none
func (a *app) store() api.Store {
	if a.db == nil {
		return nil
	}
	return a.db
}

// loadNames reads the configured names file
func (a *app) loadNames() ([]string, string, *names.Table, error) {
	if a.cfg.NamesFile == "" {
		return nil, "", nil, fmt.Errorf("no names file configured, set names_file or MAREXPORT_NAMES_FILE")
	}
	all, column, table, err := names.Names(a.cfg.NamesFile, a.cfg.Column)
	if err != nil {
		return nil, "", nil, err
	}
	if column != a.cfg.Column {
		a.logger.Warn("Column not found, using the second column instead", "wanted", a.cfg.Column, "using", column)
	}
	a.term.Printf("Loaded %d total names from file\n", len(all))
	return all, column, table, nil
}

// start launches the browser, signs in and sets the report date range
func (a *app) start(ctx context.Context) error {
	creds, err := config.LoadCredentials(a.cfg.CredentialsFile)
	if err != nil {
		return err
	}

	nav, err := a.launch(ctx)
	if err != nil {
		return err
	}
	if err := nav.Login(ctx, a.cfg.TargetURL, creds); err != nil {
		return err
	}
	dates, err := nav.ChooseAndSetDateRange(ctx, time.Now())
	if err != nil {
		return err
	}
	a.logger.Info("Report date range set", "from", dates.From, "to", dates.To)
	return nil
}

// startManual launches the browser and lets the operator sign in, open the
// MAR report and set its dates by hand.
func (a *app) startManual(ctx context.Context) error {
	nav, err := a.launch(ctx)
	if err != nil {
		return err
	}
	return nav.WaitForManualSetup(ctx, a.cfg.TargetURL)
}

// launch cleans the download directory and opens the browser
func (a *app) launch(ctx context.Context) (*portal.Navigator, error) {
	if a.cfg.DownloadDir != "" && !a.keepDownloads {
		a.logger.Info("Checking and cleaning output directory", "dir", a.cfg.DownloadDir)
		if err := consolidate.CleanOutputDir(a.cfg.DownloadDir, a.cfg.MergedDir, a.logger); err != nil {
			a.logger.Warn("Output directory not fully cleaned", "error", err)
		}
	}

	sess, err := browser.Launch(ctx, browser.Options{
		Headless:      a.cfg.Headless,
		ChromeBin:     a.cfg.ChromeBin,
		DownloadDir:   a.cfg.DownloadDir,
		ScreenshotDir: a.cfg.ScreenshotDir,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.session = sess

	page := sess.DOM()
	a.engine = dropdown.New(page, dropdown.DefaultOptions(), a.logger, a.term)
	a.reporter = portal.NewReporter(page, sess.Downloads(), sess, a.cfg.ReportTimeouts(), a.logger)
	return portal.NewNavigator(page, a.term, sess, a.cfg.NavigatorOptions(), a.logger), nil
}

// serveStatus starts the status API in the background when an address is
// configured. workflows may be nil.
func (a *app) serveStatus(ctx context.Context, workflows api.WorkflowQuerier) {
	if a.cfg.StatusAddr == "" {
		return
	}
	srv := api.NewServer(a.cfg.StatusAddr, api.NewHandlers(a.store(), a.hub, workflows, a.logger))
	go func() {
		a.logger.Info("Status API listening", "addr", a.cfg.StatusAddr)
		if err := api.Serve(ctx, srv); err != nil {
			a.logger.Error("Status API failed", "error", err)
		}
	}()
}

func (a *app) close() {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("Failed to close browser", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// guard turns a panic in fn into an error after logging its stack, so the
// deferred cleanup still closes the browser.
func guard(logger *slog.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Unexpected failure", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()
	return fn()
}
