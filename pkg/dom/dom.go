// Package dom is the small capability surface the portal drivers and the
// dropdown engine use to talk to a live page. The browser package implements
// it on top of go-rod; tests implement it with in-memory fakes.
package dom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound means no element matched the query.
	ErrNotFound = errors.New("element not found")
	// ErrStale means the element was detached or replaced between lookup and use.
	ErrStale = errors.New("stale element")
	// ErrTimeout means a bounded wait expired.
	ErrTimeout = errors.New("wait timed out")
)

// By selects the query language of a selector
type By int

const (
	ByXPath By = iota
	ByCSS
)

func (b By) String() string {
	if b == ByCSS {
		return "css"
	}
	return "xpath"
}

// Query is a selector plus its language
type Query struct {
	By       By
	Selector string
}

// XPath builds an XPath query
func XPath(format string, args ...interface{}) Query {
	return Query{By: ByXPath, Selector: fmt.Sprintf(format, args...)}
}

// CSS builds a CSS query
func CSS(selector string) Query {
	return Query{By: ByCSS, Selector: selector}
}

func (q Query) String() string {
	return q.By.String() + ":" + q.Selector
}

// Element is a located node in the live page
type Element interface {
	// Text returns the rendered text of the element
	Text() (string, error)
	// Visible reports whether the element is displayed
	Visible() (bool, error)
	// Interactable reports whether the element can receive pointer input
	Interactable() bool
	// Click simulates a native mouse click
	Click() error
	// JSClick dispatches element.click() from JavaScript
	JSClick() error
	// Input clears the element and types text into it
	Input(text string) error
	// PressEnter sends the Enter key to the element
	PressEnter() error
	// Elements finds descendants without waiting
	Elements(q Query) ([]Element, error)
	// AncestorClass returns the class attribute of the nearest ancestor div
	AncestorClass() (string, error)
}

// Page is the query surface over the current document
type Page interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string) error
	// URL returns the current location
	URL() string
	// Elements returns every current match without waiting
	Elements(ctx context.Context, q Query) ([]Element, error)
	// WaitPresent waits until q matches at least one element
	WaitPresent(ctx context.Context, q Query, timeout time.Duration) (Element, error)
	// WaitClickable waits until q matches a visible, enabled element
	WaitClickable(ctx context.Context, q Query, timeout time.Duration) (Element, error)
	// WaitGone waits until q matches nothing visible
	WaitGone(ctx context.Context, q Query, timeout time.Duration) error
}

// Downloads tracks browser downloads into the configured directory
type Downloads interface {
	// Expect arms a waiter before the triggering click. wait blocks until
	// the download completes and returns the saved file path. release must
	// be called once the caller is done, whether or not wait ran.
	Expect(ctx context.Context) (wait func(timeout time.Duration) (string, error), release func())
}

// First returns the first element of q, or ErrNotFound
func First(ctx context.Context, p Page, q Query) (Element, error) {
	els, err := p.Elements(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q)
	}
	return els[0], nil
}

// Literal quotes s as an XPath string literal, using concat() when s holds
// both quote kinds.
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var sb strings.Builder
	sb.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			sb.WriteString(`, "'", `)
		}
		sb.WriteString("'" + part + "'")
	}
	sb.WriteString(")")
	return sb.String()
}

// IsStale reports whether err means the element went stale
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}
