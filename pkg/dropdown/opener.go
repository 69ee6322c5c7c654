package dropdown

import (
	"context"
	"fmt"

	"dev/bravebird/mar-export/pkg/dom"
)

// Open clicks the control carrying the current anchor label to expand the
// option menu. The widget re-renders the control while it updates, so a
// stale anchor is re-probed and retried up to Options.OpenRetries times.
// It returns the anchor label that was used.
func (e *Engine) Open(ctx context.Context) (string, error) {
	label, _ := e.Probe(ctx)

	var lastErr error
	for attempt := 1; attempt <= e.opts.OpenRetries; attempt++ {
		lastErr = e.clickAnchor(ctx, label)
		if lastErr == nil {
			e.logger.Debug("Opened dropdown", "anchor", displayAnchor(label), "attempt", attempt)
			return label, nil
		}
		if !dom.IsStale(lastErr) || attempt == e.opts.OpenRetries {
			break
		}

		e.logger.Debug("Stale dropdown anchor, refreshing", "attempt", attempt, "anchor", displayAnchor(label))
		label, _ = e.Probe(ctx)
		if err := sleep(ctx, e.opts.RetryBackoff); err != nil {
			return label, err
		}
	}

	return label, fmt.Errorf("failed to open dropdown via anchor %q: %w", displayAnchor(label), lastErr)
}

func (e *Engine) clickAnchor(ctx context.Context, label string) error {
	el, err := e.page.WaitClickable(ctx, anchorQuery(label), e.opts.WaitTimeout)
	if err != nil {
		return err
	}
	return el.Click()
}
