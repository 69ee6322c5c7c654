package dropdown

import (
	"context"
	"strings"

	"dev/bravebird/mar-export/pkg/dom"
)

// optionQueries lists the menu option selectors in priority order. Options
// render with different wrappers depending on their style, so the locator
// tries each shape rather than assuming one.
func optionQueries(text string) []dom.Query {
	t := dom.Literal(text)
	return []dom.Query{
		dom.XPath("//div[contains(@class, 'option')]//span[@class='me-2' and text()=%s]", t),
		dom.XPath("//div[contains(@class, 'option')]//span[text()=%s]", t),
		dom.XPath("//div[contains(@class, 'option') and contains(text(), %s)]", t),
		dom.XPath("//div[contains(@class, 'menu')]//span[text()=%s]", t),
		dom.XPath("//*[@role='option' and contains(text(), %s)]", t),
		dom.XPath("//div[contains(@class, 'option')]//text()[.=%s]/parent::*", t),
	}
}

// textQuery matches any element whose own text is exactly text
func textQuery(text string) dom.Query {
	return dom.XPath("//*[text()=%s]", dom.Literal(text))
}

// FindOption returns the clickable element for the option labelled text in
// the open menu.
func (e *Engine) FindOption(ctx context.Context, text string) (dom.Element, bool) {
	for i, q := range optionQueries(text) {
		els, err := e.page.Elements(ctx, q)
		if err != nil || len(els) == 0 {
			continue
		}
		if usable(els[0]) {
			e.logger.Debug("Found dropdown option", "target", text, "strategy", i+1)
			return els[0], true
		}
	}

	// Last resort: any exact text match that sits inside a menu or option wrapper.
	els, err := e.page.Elements(ctx, textQuery(text))
	if err == nil {
		for _, el := range els {
			if !usable(el) {
				continue
			}
			class, err := el.AncestorClass()
			if err != nil {
				continue
			}
			class = strings.ToLower(class)
			if strings.Contains(class, "option") || strings.Contains(class, "menu") {
				e.logger.Debug("Found dropdown option via text fallback", "target", text)
				return el, true
			}
		}
	}

	e.logger.Debug("Could not find clickable option", "target", text)
	return nil, false
}

func usable(el dom.Element) bool {
	visible, err := el.Visible()
	if err != nil || !visible {
		return false
	}
	return el.Interactable()
}
