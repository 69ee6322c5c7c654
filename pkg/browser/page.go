package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"

	"dev/bravebird/mar-export/pkg/dom"
)

// Page adapts a rod page to dom.Page
type Page struct {
	page *rod.Page
}

var _ dom.Page = (*Page)(nil)

// NewPage wraps p
func NewPage(p *rod.Page) *Page {
	return &Page{page: p}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, classify(err))
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", classify(err))
	}
	return nil
}

func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Elements(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	page := p.page.Context(ctx)
	var (
		els rod.Elements
		err error
	)
	if q.By == dom.ByCSS {
		els, err = page.Elements(q.Selector)
	} else {
		els, err = page.ElementsX(q.Selector)
	}
	if err != nil {
		return nil, classify(err)
	}
	return wrapAll(els, ctx), nil
}

func (p *Page) WaitPresent(ctx context.Context, q dom.Query, timeout time.Duration) (dom.Element, error) {
	timed := p.page.Context(ctx).Timeout(timeout)
	defer timed.CancelTimeout()

	el, err := find(timed, q)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", q, classify(err))
	}
	return &Element{el: el.Context(ctx)}, nil
}

func (p *Page) WaitClickable(ctx context.Context, q dom.Query, timeout time.Duration) (dom.Element, error) {
	timed := p.page.Context(ctx).Timeout(timeout)
	defer timed.CancelTimeout()

	el, err := find(timed, q)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", q, classify(err))
	}
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("waiting for %s to be visible: %w", q, classify(err))
	}
	if err := el.WaitEnabled(); err != nil {
		return nil, fmt.Errorf("waiting for %s to be enabled: %w", q, classify(err))
	}
	return &Element{el: el.Context(ctx)}, nil
}

func (p *Page) WaitGone(ctx context.Context, q dom.Query, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := utils.Retry(waitCtx, rod.DefaultSleeper(), func() (bool, error) {
		els, err := p.Elements(waitCtx, q)
		if err != nil {
			// A re-rendering overlay can vanish mid query.
			return dom.IsStale(err), nil
		}
		for _, el := range els {
			if visible, err := el.Visible(); err == nil && visible {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s to disappear: %w", q, classify(err))
	}
	return nil
}

func find(page *rod.Page, q dom.Query) (*rod.Element, error) {
	if q.By == dom.ByCSS {
		return page.Element(q.Selector)
	}
	return page.ElementX(q.Selector)
}

// Element adapts a rod element to dom.Element
type Element struct {
	el *rod.Element
}

var _ dom.Element = (*Element)(nil)

func wrapAll(els rod.Elements, ctx context.Context) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = &Element{el: el.Context(ctx)}
	}
	return out
}

func (e *Element) Text() (string, error) {
	text, err := e.el.Text()
	return text, classify(err)
}

func (e *Element) Visible() (bool, error) {
	visible, err := e.el.Visible()
	return visible, classify(err)
}

func (e *Element) Interactable() bool {
	_, err := e.el.Interactable()
	return err == nil
}

func (e *Element) Click() error {
	return classify(e.el.Click(proto.InputMouseButtonLeft, 1))
}

func (e *Element) JSClick() error {
	_, err := e.el.Eval(`() => this.click()`)
	return classify(err)
}

func (e *Element) Input(text string) error {
	if err := e.el.SelectAllText(); err != nil {
		return classify(err)
	}
	return classify(e.el.Input(text))
}

func (e *Element) PressEnter() error {
	return classify(e.el.Type(input.Enter))
}

func (e *Element) Elements(q dom.Query) ([]dom.Element, error) {
	var (
		els rod.Elements
		err error
	)
	if q.By == dom.ByCSS {
		els, err = e.el.Elements(q.Selector)
	} else {
		els, err = e.el.ElementsX(q.Selector)
	}
	if err != nil {
		return nil, classify(err)
	}
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = &Element{el: el}
	}
	return out, nil
}

func (e *Element) AncestorClass() (string, error) {
	res, err := e.el.Eval(`() => {
		const parent = this.parentElement && this.parentElement.closest('div');
		return parent ? String(parent.className || '') : '';
	}`)
	if err != nil {
		return "", classify(err)
	}
	return res.Value.Str(), nil
}

// classify maps rod and CDP failures onto the dom sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}

	var notFound *rod.ElementNotFoundError
	var objectGone *rod.ObjectNotFoundError
	switch {
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", dom.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", dom.ErrTimeout, err)
	case errors.As(err, &objectGone),
		errors.Is(err, cdp.ErrObjNotFound),
		errors.Is(err, cdp.ErrCtxDestroyed),
		errors.Is(err, cdp.ErrCtxNotFound),
		isDetached(err):
		return fmt.Errorf("%w: %v", dom.ErrStale, err)
	}
	return err
}

func isDetached(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "detached") || strings.Contains(msg, "no node with given id")
}
