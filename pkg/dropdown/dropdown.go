// Package dropdown drives the portal's React multi-select location picker.
//
// The widget exposes no way to enumerate its selection, so the engine infers
// state from the label shown in the collapsed control (the anchor), opens the
// menu by clicking the element that carries that label, and finds options with
// an ordered list of selector strategies. Every lookup is allowed to fail; the
// first strategy that succeeds wins.
package dropdown

import (
	"context"
	"time"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/logging"
)

const (
	// AllUnitsLabel replaces the badges once every unit is selected
	AllUnitsLabel = "All units"
	// PlaceholderLabel is shown while nothing is selected
	PlaceholderLabel = "Select..."
	// SelectAllLabel is the menu entry that toggles the whole selection
	SelectAllLabel = "Select All"

	badgeRemoveMark = "\u00d7"
)

// Operator is asked to fix the widget by hand when automatic clearing fails
type Operator interface {
	ManualIntervention(ctx context.Context, instructions []string)
}

// Options tunes waits and retries
type Options struct {
	WaitTimeout  time.Duration // bounded wait for clickable anchors and menu entries
	OpenRetries  int           // attempts to open the menu when the anchor goes stale
	RetryBackoff time.Duration
	SettleDelay  time.Duration // pause after opening the menu before looking for options
	ToggleDelay  time.Duration // pause after Select All clicks
}

// DefaultOptions returns the timings the portal was tuned with
func DefaultOptions() Options {
	return Options{
		WaitTimeout:  20 * time.Second,
		OpenRetries:  3,
		RetryBackoff: 80 * time.Millisecond,
		SettleDelay:  80 * time.Millisecond,
		ToggleDelay:  50 * time.Millisecond,
	}
}

// Engine selects and clears locations in the dropdown
type Engine struct {
	page     dom.Page
	opts     Options
	logger   logging.Logger
	operator Operator
}

// New creates an engine over page
func New(page dom.Page, opts Options, logger logging.Logger, operator Operator) *Engine {
	if opts.OpenRetries < 1 {
		opts.OpenRetries = 1
	}
	return &Engine{
		page:     page,
		opts:     opts,
		logger:   logging.OrDefault(logger),
		operator: operator,
	}
}

// WithLogger returns a copy of the engine logging to logger
func (e *Engine) WithLogger(logger logging.Logger) *Engine {
	clone := *e
	clone.logger = logging.OrDefault(logger)
	return &clone
}

// anchorQuery locates the clickable control carrying label, or the
// placeholder when label is empty.
func anchorQuery(label string) dom.Query {
	if label == "" {
		return dom.XPath("//div[text()=%s]", dom.Literal(PlaceholderLabel))
	}
	return dom.XPath("//div[./span[text()=%s]]", dom.Literal(label))
}

func selectAllQuery() dom.Query {
	return dom.XPath("//*[text()=%s]", dom.Literal(SelectAllLabel))
}

func displayAnchor(label string) string {
	if label == "" {
		return PlaceholderLabel
	}
	return label
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
