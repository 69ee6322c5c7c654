package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/logging"
)

var (
	anotherUserQuery   = dom.XPath("//div[contains(@class, 'otherUserDetailsBox')]")
	usernameQuery      = dom.CSS("#signInName")
	passwordQuery      = dom.CSS("#password")
	continueQuery      = dom.CSS("#continue")
	reportsLinkQuery   = linkText("Reports")
	marReportLinkQuery = linkText("MAR Report")
	startDateQuery     = dom.XPath("//input[@placeholder='Start Date']")
	endDateQuery       = dom.XPath("//input[@placeholder='End Date']")
)

func linkText(text string) dom.Query {
	return dom.XPath("//a[normalize-space(.)=%s]", dom.Literal(text))
}

// NavigatorOptions tunes the sign-in waits
type NavigatorOptions struct {
	StepTimeout time.Duration // per step wait
	PopupDelay  time.Duration // pause after sign-in before asking the operator about pop-ups
	RenderDelay time.Duration // pause after opening the report page
	DateDelay   time.Duration // pause between the two date inputs
}

// DefaultNavigatorOptions returns the timings the portal was tuned with
func DefaultNavigatorOptions() NavigatorOptions {
	return NavigatorOptions{
		StepTimeout: 10 * time.Second,
		PopupDelay:  3 * time.Second,
		RenderDelay: 2 * time.Second,
		DateDelay:   time.Second,
	}
}

// Navigator signs in and opens the MAR report page
type Navigator struct {
	page     dom.Page
	operator Operator
	shots    Screenshotter
	opts     NavigatorOptions
	logger   logging.Logger
}

// NewNavigator creates a navigator. shots may be nil.
func NewNavigator(page dom.Page, operator Operator, shots Screenshotter, opts NavigatorOptions, logger logging.Logger) *Navigator {
	return &Navigator{
		page:     page,
		operator: operator,
		shots:    shots,
		opts:     opts,
		logger:   logging.OrDefault(logger),
	}
}

// Login performs the three step sign-in, lets the operator dismiss pop-ups,
// and opens the MAR report page.
func (n *Navigator) Login(ctx context.Context, targetURL string, creds Credentials) error {
	n.logger.Info("Navigating to portal", "url", targetURL)
	if err := n.page.Navigate(ctx, targetURL); err != nil {
		return n.fail("navigate", err)
	}

	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"another user", func(ctx context.Context) error {
			return n.click(ctx, anotherUserQuery, false)
		}},
		{"username", func(ctx context.Context) error {
			if err := n.typeInto(ctx, usernameQuery, creds.Username); err != nil {
				return err
			}
			return n.click(ctx, continueQuery, false)
		}},
		{"password", func(ctx context.Context) error {
			if err := n.typeInto(ctx, passwordQuery, creds.Password); err != nil {
				return err
			}
			return n.click(ctx, continueQuery, true)
		}},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return n.fail(step.name, err)
		}
		n.logger.Info("Login step complete", "step", step.name)
	}

	n.logger.Info("Login sequence complete, waiting for the dashboard")
	if err := sleep(ctx, n.opts.PopupDelay); err != nil {
		return err
	}
	if n.operator != nil {
		if err := n.operator.Pause(ctx, "Please manually clear any pop-ups and press Enter to continue..."); err != nil {
			return err
		}
	}

	return n.OpenMARReport(ctx)
}

// OpenMARReport follows the Reports menu to the MAR report page
func (n *Navigator) OpenMARReport(ctx context.Context) error {
	if err := n.click(ctx, reportsLinkQuery, true); err != nil {
		return n.fail("reports menu", err)
	}
	if err := n.click(ctx, marReportLinkQuery, true); err != nil {
		return n.fail("mar report menu", err)
	}
	n.logger.Info("Opened MAR report page")
	return sleep(ctx, n.opts.RenderDelay)
}

// ChooseAndSetDateRange asks the operator for a range (default when no
// operator is attached) and fills it in.
func (n *Navigator) ChooseAndSetDateRange(ctx context.Context, now time.Time) (DateRange, error) {
	r := DefaultDateRange(now)
	if n.operator != nil {
		chosen, err := n.operator.ChooseDateRange(ctx, r)
		if err != nil {
			return r, err
		}
		r = chosen
	}
	return r, n.SetDateRange(ctx, r)
}

// SetDateRange fills the report's Start Date and End Date inputs
func (n *Navigator) SetDateRange(ctx context.Context, r DateRange) error {
	if err := n.fillDate(ctx, startDateQuery, r.From); err != nil {
		return n.fail("start date", err)
	}
	n.logger.Info("Entered start date", "date", r.From)

	if err := sleep(ctx, n.opts.DateDelay); err != nil {
		return err
	}

	if err := n.fillDate(ctx, endDateQuery, r.To); err != nil {
		return n.fail("end date", err)
	}
	n.logger.Info("Entered end date", "date", r.To)
	return nil
}

// WaitForManualSetup opens targetURL and lets the operator sign in and
// navigate by hand.
func (n *Navigator) WaitForManualSetup(ctx context.Context, targetURL string) error {
	n.logger.Info("Opening login page for manual setup", "url", targetURL)
	if err := n.page.Navigate(ctx, targetURL); err != nil {
		return n.fail("navigate", err)
	}
	if n.operator != nil {
		if err := n.operator.Pause(ctx, "Press Enter when you're logged in and on the correct page with the dropdown..."); err != nil {
			return err
		}
	}

	current := n.page.URL()
	if strings.Contains(current, "reports/mar") {
		n.logger.Info("Detected MAR reports page", "url", current)
	} else {
		n.logger.Warn("Not on the MAR reports page, make sure the dropdown is visible", "url", current)
	}
	return nil
}

func (n *Navigator) click(ctx context.Context, q dom.Query, clickable bool) error {
	var (
		el  dom.Element
		err error
	)
	if clickable {
		el, err = n.page.WaitClickable(ctx, q, n.opts.StepTimeout)
	} else {
		el, err = n.page.WaitPresent(ctx, q, n.opts.StepTimeout)
	}
	if err != nil {
		return err
	}
	return el.Click()
}

func (n *Navigator) typeInto(ctx context.Context, q dom.Query, text string) error {
	el, err := n.page.WaitClickable(ctx, q, n.opts.StepTimeout)
	if err != nil {
		return err
	}
	return el.Input(text)
}

func (n *Navigator) fillDate(ctx context.Context, q dom.Query, date string) error {
	el, err := n.page.WaitPresent(ctx, q, n.opts.StepTimeout)
	if err != nil {
		return err
	}
	if err := el.Click(); err != nil {
		return err
	}
	if err := el.Input(date); err != nil {
		return err
	}
	return el.PressEnter()
}

func (n *Navigator) fail(step string, err error) error {
	capture(n.shots, n.logger, "login_"+strings.ReplaceAll(step, " ", "_"))
	return fmt.Errorf("login step %q failed: %w", step, err)
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
