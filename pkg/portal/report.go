package portal

import (
	"context"
	"errors"
	"time"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/models"
)

var (
	generateButtonQuery = dom.XPath("//button[text()='Generate Report']")
	proceedButtonQuery  = dom.XPath("//button[contains(text(), 'Proceed Anyway')]")
	modalQuery          = dom.XPath("//div[contains(@class, 'modal') and contains(@class, 'show')]")
	loadingOverlayQuery = dom.XPath("//div[contains(@class, 'ag-overlay-loading-wrapper')]")
	noRecordsQuery      = dom.XPath("//div[contains(@class, 'ag-center-cols-viewport') and contains(., 'No Records!')]")
	csvLinkQuery        = dom.XPath("//a[@download and contains(text(), 'CSV')]")
)

// ReportTimeouts bounds each stage of report generation independently
type ReportTimeouts struct {
	Generate  time.Duration
	Proceed   time.Duration
	ModalGone time.Duration
	Overlay   time.Duration
	NoRecords time.Duration
	CSVLink   time.Duration
	Download  time.Duration
}

// DefaultReportTimeouts returns the waits the portal was tuned with
func DefaultReportTimeouts() ReportTimeouts {
	return ReportTimeouts{
		Generate:  20 * time.Second,
		Proceed:   2 * time.Second,
		ModalGone: 20 * time.Second,
		Overlay:   20 * time.Second,
		NoRecords: 3 * time.Second,
		CSVLink:   60 * time.Second,
		Download:  2 * time.Minute,
	}
}

// Reporter generates the MAR report for the current dropdown selection and
// exports it as CSV.
type Reporter struct {
	page      dom.Page
	downloads dom.Downloads
	shots     Screenshotter
	timeouts  ReportTimeouts
	logger    logging.Logger
}

// NewReporter creates a reporter. downloads and shots may be nil; without
// downloads the CSV link is clicked but the file is not tracked.
func NewReporter(page dom.Page, downloads dom.Downloads, shots Screenshotter, timeouts ReportTimeouts, logger logging.Logger) *Reporter {
	return &Reporter{
		page:      page,
		downloads: downloads,
		shots:     shots,
		timeouts:  timeouts,
		logger:    logging.OrDefault(logger),
	}
}

// WithLogger returns a copy of the reporter logging to logger
func (r *Reporter) WithLogger(logger logging.Logger) *Reporter {
	clone := *r
	clone.logger = logging.OrDefault(logger)
	return &clone
}

// Generate runs the report for the current selection. Failures are reported
// in the outcome rather than returned so the caller can move on to the next
// chunk. An empty report counts as success without a download.
func (r *Reporter) Generate(ctx context.Context) models.ReportOutcome {
	r.logger.Info("Generating report for current selections")

	if err := r.clickGenerate(ctx); err != nil {
		return r.failed("generate_report", "failed to click Generate Report", err)
	}

	r.handleProceedPopup(ctx)

	if r.noRecords(ctx) {
		r.logger.Info("No records found for current selections, skipping CSV download")
		return models.ReportOutcome{Status: models.ReportNoRecords}
	}

	path, err := r.downloadCSV(ctx)
	if err != nil {
		return r.failed("csv_export", "failed to download CSV", err)
	}

	r.logger.Info("Report generation completed", "file", path)
	return models.ReportOutcome{Status: models.ReportGenerated, DownloadPath: path}
}

func (r *Reporter) clickGenerate(ctx context.Context) error {
	button, err := r.page.WaitClickable(ctx, generateButtonQuery, r.timeouts.Generate)
	if err != nil {
		return err
	}
	return button.Click()
}

// handleProceedPopup dismisses the large-report warning when it shows up
func (r *Reporter) handleProceedPopup(ctx context.Context) bool {
	button, err := r.page.WaitClickable(ctx, proceedButtonQuery, r.timeouts.Proceed)
	if err != nil {
		r.logger.Debug("No pop-up found, continuing")
		return false
	}
	if err := button.Click(); err != nil {
		r.logger.Warn("Failed to click Proceed Anyway", "error", err)
		return false
	}
	if err := r.page.WaitGone(ctx, modalQuery, r.timeouts.ModalGone); err != nil {
		r.logger.Warn("Pop-up did not disappear", "error", err)
		return false
	}
	r.logger.Info("Dismissed pop-up, report generation in progress")
	return true
}

func (r *Reporter) noRecords(ctx context.Context) bool {
	if err := r.page.WaitGone(ctx, loadingOverlayQuery, r.timeouts.Overlay); err != nil {
		r.logger.Debug("Loading overlay did not disappear in time, continuing", "error", err)
	}
	_, err := r.page.WaitPresent(ctx, noRecordsQuery, r.timeouts.NoRecords)
	return err == nil
}

func (r *Reporter) downloadCSV(ctx context.Context) (string, error) {
	link, err := r.page.WaitClickable(ctx, csvLinkQuery, r.timeouts.CSVLink)
	if err != nil {
		return "", err
	}

	var wait func(time.Duration) (string, error)
	if r.downloads != nil {
		var release func()
		wait, release = r.downloads.Expect(ctx)
		defer release()
	}

	label, _ := link.Text()
	if err := link.Click(); err != nil {
		return "", err
	}
	r.logger.Info("Clicked export link", "link", label)

	if wait == nil {
		return "", nil
	}
	path, err := wait(r.timeouts.Download)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.New("download finished without a file")
	}
	return path, nil
}

func (r *Reporter) failed(stage, msg string, err error) models.ReportOutcome {
	r.logger.Warn(msg, "stage", stage, "error", err)
	capture(r.shots, r.logger, "report_"+stage)
	return models.ReportOutcome{
		Status:       models.ReportFailed,
		ErrorMessage: msg + ": " + err.Error(),
	}
}
