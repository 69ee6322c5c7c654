// Package domtest provides an in-memory dom.Page for tests. Waits resolve
// immediately: a query that does not match when a wait starts times out.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dev/bravebird/mar-export/pkg/dom"
)

// Element is a scripted dom.Element
type Element struct {
	Label    string
	Hidden   bool
	Disabled bool
	// Class is reported as the nearest ancestor div's class
	Class string
	// OnClick runs on native clicks, and on JS clicks when OnJSClick is nil
	OnClick   func() error
	OnJSClick func() error
	Children  map[dom.Query][]*Element

	mu       sync.Mutex
	Clicks   int
	JSClicks int
	Typed    []string
	Enters   int
}

var _ dom.Element = (*Element)(nil)

func (e *Element) Text() (string, error) {
	return e.Label, nil
}

func (e *Element) Visible() (bool, error) {
	return !e.Hidden, nil
}

func (e *Element) Interactable() bool {
	return !e.Hidden && !e.Disabled
}

func (e *Element) Click() error {
	e.mu.Lock()
	e.Clicks++
	e.mu.Unlock()
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) JSClick() error {
	e.mu.Lock()
	e.JSClicks++
	e.mu.Unlock()
	if e.OnJSClick != nil {
		return e.OnJSClick()
	}
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) Input(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Typed = append(e.Typed, text)
	return nil
}

func (e *Element) PressEnter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Enters++
	return nil
}

func (e *Element) Elements(q dom.Query) ([]dom.Element, error) {
	return toDOM(e.Children[q]), nil
}

func (e *Element) AncestorClass() (string, error) {
	return e.Class, nil
}

// Page is a scripted dom.Page
type Page struct {
	mu     sync.Mutex
	static map[dom.Query][]*Element

	// Resolve, when set, answers queries before the static table
	Resolve func(q dom.Query) ([]*Element, bool)

	CurrentURL string
	Navigated  []string
	Queries    []dom.Query
}

var _ dom.Page = (*Page)(nil)

// NewPage creates an empty page
func NewPage() *Page {
	return &Page{static: make(map[dom.Query][]*Element)}
}

// Set registers the elements returned for q
func (p *Page) Set(q dom.Query, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.static[q] = els
}

// Remove forgets q
func (p *Page) Remove(q dom.Query) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.static, q)
}

// Asked reports whether q was ever queried
func (p *Page) Asked(q dom.Query) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, asked := range p.Queries {
		if asked == q {
			return true
		}
	}
	return false
}

func (p *Page) lookup(q dom.Query) []*Element {
	p.mu.Lock()
	p.Queries = append(p.Queries, q)
	resolve := p.Resolve
	static := p.static[q]
	p.mu.Unlock()

	if resolve != nil {
		if els, ok := resolve(q); ok {
			return els
		}
	}
	return static
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigated = append(p.Navigated, url)
	p.CurrentURL = url
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) Elements(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return toDOM(p.lookup(q)), nil
}

func (p *Page) WaitPresent(ctx context.Context, q dom.Query, timeout time.Duration) (dom.Element, error) {
	els := p.lookup(q)
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", dom.ErrTimeout, q)
	}
	return els[0], nil
}

func (p *Page) WaitClickable(ctx context.Context, q dom.Query, timeout time.Duration) (dom.Element, error) {
	for _, el := range p.lookup(q) {
		if el.Interactable() {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", dom.ErrTimeout, q)
}

func (p *Page) WaitGone(ctx context.Context, q dom.Query, timeout time.Duration) error {
	for _, el := range p.lookup(q) {
		if !el.Hidden {
			return fmt.Errorf("%w: %s still visible", dom.ErrTimeout, q)
		}
	}
	return nil
}

// Downloads is a scripted dom.Downloads
type Downloads struct {
	Path string
	Err  error

	mu       sync.Mutex
	Armed    int
	Waited   int
	Released int
}

var _ dom.Downloads = (*Downloads)(nil)

func (d *Downloads) Expect(ctx context.Context) (func(timeout time.Duration) (string, error), func()) {
	d.mu.Lock()
	d.Armed++
	d.mu.Unlock()

	wait := func(time.Duration) (string, error) {
		d.mu.Lock()
		d.Waited++
		d.mu.Unlock()
		if d.Err != nil {
			return "", d.Err
		}
		if d.Path == "" {
			return "", errors.New("no download")
		}
		return d.Path, nil
	}
	release := func() {
		d.mu.Lock()
		d.Released++
		d.mu.Unlock()
	}
	return wait, release
}

func toDOM(els []*Element) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}
