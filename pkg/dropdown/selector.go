package dropdown

import (
	"context"
	"errors"
	"fmt"
)

// ClearInstructions are shown to the operator when clearing has to be done by hand
var ClearInstructions = []string{
	"Click the dropdown to open it",
	"Click 'Select All' to select everything",
	"Click 'Select All' again to deselect everything",
	"The dropdown should return to the 'Select...' state",
}

// Select adds the option labelled target to the selection. It never returns
// an error: every failure is logged and reported as false so a batch can carry on.
func (e *Engine) Select(ctx context.Context, target string) bool {
	anchor, err := e.Open(ctx)
	if err != nil {
		e.logger.Warn("Failed to select", "target", target, "anchor", displayAnchor(anchor), "error", err)
		return false
	}

	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return false
	}

	option, ok := e.FindOption(ctx, target)
	if !ok {
		e.logger.Warn("Could not find clickable element", "target", target, "anchor", displayAnchor(anchor))
		return false
	}

	// Some options sit under transformed overlays that swallow synthetic mouse
	// input, so a DOM click goes first.
	jsErr := option.JSClick()
	if jsErr == nil {
		e.logger.Info("Selected", "target", target, "method", "javascript")
		return true
	}
	e.logger.Debug("JavaScript click failed", "target", target, "error", jsErr)

	if err := option.Click(); err != nil {
		e.logger.Warn("Standard click also failed", "target", target, "js_error", jsErr, "error", err)
		return false
	}
	e.logger.Info("Selected", "target", target, "method", "native")
	return true
}

// ClearAll empties the selection by toggling the menu's Select All entry
// twice, which costs a constant number of clicks however many items are
// selected. If the toggle cannot be completed the operator is asked to clear
// the widget by hand and false is returned.
func (e *Engine) ClearAll(ctx context.Context) bool {
	anchor, ok := e.Probe(ctx)
	if !ok {
		e.logger.Info("No selections to clear")
		return true
	}

	e.logger.Info("Clearing all selections", "anchor", anchor)
	if err := e.toggleAllTwice(ctx, anchor); err != nil {
		e.logger.Warn("Select All clearing failed, manual intervention required", "error", err)
		if e.operator != nil {
			e.operator.ManualIntervention(ctx, ClearInstructions)
		}
		return false
	}

	e.logger.Info("All selections cleared")
	return true
}

func (e *Engine) toggleAllTwice(ctx context.Context, anchor string) error {
	if err := e.clickAnchor(ctx, anchor); err != nil {
		return fmt.Errorf("failed to open dropdown via %q: %w", anchor, err)
	}
	if err := sleep(ctx, e.opts.ToggleDelay); err != nil {
		return err
	}

	selectAll, err := e.page.WaitClickable(ctx, selectAllQuery(), e.opts.WaitTimeout)
	if err != nil {
		return fmt.Errorf("failed to find %q: %w", SelectAllLabel, err)
	}
	if err := selectAll.Click(); err != nil {
		return fmt.Errorf("failed to click %q: %w", SelectAllLabel, err)
	}
	if err := sleep(ctx, e.opts.ToggleDelay); err != nil {
		return err
	}

	// Everything is selected now, so the anchor should read "All units".
	// Starting from a full selection the first toggle already emptied it.
	fresh, ok := e.Probe(ctx)
	if !ok {
		return nil
	}
	if err := e.clickAnchor(ctx, fresh); err != nil {
		return fmt.Errorf("failed to reopen dropdown via %q: %w", displayAnchor(fresh), err)
	}
	if err := sleep(ctx, 2*e.opts.SettleDelay); err != nil {
		return err
	}

	els, err := e.page.Elements(ctx, selectAllQuery())
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return errors.New("could not find fresh Select All element")
	}
	if err := els[0].JSClick(); err != nil {
		return fmt.Errorf("failed to deselect all: %w", err)
	}
	return sleep(ctx, e.opts.SettleDelay)
}

// SelectAll selects every unit through the menu's Select All entry. It
// expects an empty selection and reports whether a selection shows afterwards.
func (e *Engine) SelectAll(ctx context.Context) bool {
	if err := e.clickAnchor(ctx, ""); err != nil {
		e.logger.Warn("Failed to open dropdown", "anchor", PlaceholderLabel, "error", err)
		return false
	}
	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return false
	}

	selectAll, err := e.page.WaitClickable(ctx, selectAllQuery(), e.opts.WaitTimeout)
	if err != nil {
		e.logger.Warn("Failed to find Select All", "error", err)
		return false
	}
	if err := selectAll.JSClick(); err != nil {
		e.logger.Warn("Failed to click Select All", "error", err)
		return false
	}
	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return false
	}

	label, ok := e.Probe(ctx)
	if !ok {
		e.logger.Warn("Select All may not have worked, no selections detected")
		return false
	}
	e.logger.Info("Select All complete", "anchor", label)
	return true
}
