package dropdown

import (
	"context"
	"strings"

	"dev/bravebird/mar-export/pkg/dom"
)

var (
	allUnitsQuery     = dom.XPath("//span[text()=%s]", dom.Literal(AllUnitsLabel))
	badgeQuery        = dom.CSS(".badge.border.border-primary.text-primary")
	controlBadgeQuery = dom.CSS(".css-1pahdxg-control .badge span")
	controlQuery      = dom.CSS(".css-1pahdxg-control, .css-yk16xz-control")
	spanQuery         = dom.CSS("span")
)

// probeStrategy is one way of reading the anchor label
type probeStrategy struct {
	name string
	try  func(ctx context.Context, p dom.Page) (string, bool)
}

// probeStrategies are ordered from the most specific markup to the most generic.
// The rendered markup changes with the number of selected items, so no single
// selector covers every state.
var probeStrategies = []probeStrategy{
	{name: "all-units", try: probeAllUnits},
	{name: "primary-badge", try: probePrimaryBadge},
	{name: "control-badge", try: probeControlBadge},
	{name: "control-span", try: probeControlSpan},
}

// Probe returns the label of the first (or aggregate) selection. ok is false
// when nothing appears to be selected.
func (e *Engine) Probe(ctx context.Context) (label string, ok bool) {
	for _, s := range probeStrategies {
		if label, ok := s.try(ctx, e.page); ok {
			e.logger.Debug("Probed dropdown anchor", "strategy", s.name, "anchor", label)
			return label, true
		}
	}
	e.logger.Debug("Could not detect current first selection")
	return "", false
}

func probeAllUnits(ctx context.Context, p dom.Page) (string, bool) {
	if _, err := dom.First(ctx, p, allUnitsQuery); err != nil {
		return "", false
	}
	return AllUnitsLabel, true
}

func probePrimaryBadge(ctx context.Context, p dom.Page) (string, bool) {
	el, err := dom.First(ctx, p, badgeQuery)
	if err != nil {
		return "", false
	}
	text, err := el.Text()
	if err != nil {
		return "", false
	}
	text = stripRemoveMark(text)
	return text, text != ""
}

func probeControlBadge(ctx context.Context, p dom.Page) (string, bool) {
	el, err := dom.First(ctx, p, controlBadgeQuery)
	if err != nil {
		return "", false
	}
	text, err := el.Text()
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" || text == badgeRemoveMark {
		return "", false
	}
	return text, true
}

func probeControlSpan(ctx context.Context, p dom.Page) (string, bool) {
	control, err := dom.First(ctx, p, controlQuery)
	if err != nil {
		return "", false
	}
	spans, err := control.Elements(spanQuery)
	if err != nil {
		return "", false
	}
	for _, span := range spans {
		text, err := span.Text()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" && text != badgeRemoveMark && !strings.Contains(text, "Select") {
			return text, true
		}
	}
	return "", false
}

// stripRemoveMark drops the badge's trailing remove button glyph
func stripRemoveMark(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, badgeRemoveMark)
	return strings.TrimSpace(text)
}
