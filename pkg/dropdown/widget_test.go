package dropdown

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/dom/domtest"
	"dev/bravebird/mar-export/pkg/logging"
)

// widget is an in-memory model of the portal's multi-select. It answers
// exactly the queries the engine issues, the way the real markup does.
type widget struct {
	page     *domtest.Page
	options  []string
	selected []string
	open     bool

	staleClicks     int  // anchor clicks that fail as stale before one succeeds
	jsBroken        bool // option JS clicks fail
	noSelectAll     bool // menu renders without the Select All entry
	selectAllClicks int
	nativeClicks    int
}

func newWidget(options ...string) *widget {
	w := &widget{page: domtest.NewPage(), options: options}
	w.page.Resolve = w.resolve
	return w
}

func (w *widget) full() bool {
	return len(w.options) > 0 && len(w.selected) == len(w.options)
}

func (w *widget) anchorLabel() string {
	switch {
	case len(w.selected) == 0:
		return ""
	case w.full():
		return AllUnitsLabel
	default:
		return w.selected[0]
	}
}

func (w *widget) resolve(q dom.Query) ([]*domtest.Element, bool) {
	switch q {
	case allUnitsQuery:
		if w.full() {
			return []*domtest.Element{{Label: AllUnitsLabel}}, true
		}
		return nil, true
	case badgeQuery:
		if len(w.selected) > 0 && !w.full() {
			return []*domtest.Element{{Label: w.selected[0] + " " + badgeRemoveMark}}, true
		}
		return nil, true
	case controlBadgeQuery, controlQuery:
		return nil, true
	case anchorQuery(w.anchorLabel()):
		return []*domtest.Element{{Label: displayAnchor(w.anchorLabel()), OnClick: w.clickAnchor}}, true
	case selectAllQuery():
		if !w.open || w.noSelectAll {
			return nil, true
		}
		return []*domtest.Element{{Label: SelectAllLabel, Class: "option", OnClick: w.toggleAll}}, true
	}

	if !w.open {
		return nil, true
	}
	for _, o := range w.options {
		if q != optionQueries(o)[1] {
			continue
		}
		el := &domtest.Element{Label: o, Class: "css-option"}
		el.OnClick = func() error {
			w.nativeClicks++
			w.toggle(o)
			return nil
		}
		if w.jsBroken {
			el.OnJSClick = func() error { return errors.New("element click intercepted") }
		} else {
			el.OnJSClick = func() error {
				w.toggle(o)
				return nil
			}
		}
		return []*domtest.Element{el}, true
	}
	return nil, true
}

func (w *widget) clickAnchor() error {
	if w.staleClicks > 0 {
		w.staleClicks--
		return fmt.Errorf("%w: node is detached from document", dom.ErrStale)
	}
	w.open = true
	return nil
}

func (w *widget) toggleAll() error {
	w.selectAllClicks++
	if w.full() {
		w.selected = nil
	} else {
		w.selected = slices.Clone(w.options)
	}
	w.open = false
	return nil
}

func (w *widget) toggle(o string) {
	if i := slices.Index(w.selected, o); i >= 0 {
		w.selected = slices.Delete(w.selected, i, i+1)
	} else {
		w.selected = append(w.selected, o)
	}
	w.open = false
}

type recordingOperator struct {
	calls int
}

func (r *recordingOperator) ManualIntervention(ctx context.Context, instructions []string) {
	r.calls++
}

func fastOptions() Options {
	return Options{OpenRetries: 3}
}

func newTestEngine(w *widget, op Operator) *Engine {
	return New(w.page, fastOptions(), logging.Discard(), op)
}
