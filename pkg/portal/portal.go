// Package portal drives the eMAR portal pages around the location dropdown:
// sign-in, navigation to the MAR report, the date range, and report export.
package portal

import (
	"context"
	"fmt"
	"time"

	"dev/bravebird/mar-export/pkg/logging"
)

// DateLayout is the portal's date input format
const DateLayout = "02/01/2006"

// DefaultFromDate is the start of the default report range
const DefaultFromDate = "01/09/2024"

// Credentials for the portal sign-in
type Credentials struct {
	Username string
	Password string
}

// DateRange is a report period in DateLayout
type DateRange struct {
	From string
	To   string
}

// DefaultDateRange runs from DefaultFromDate to today
func DefaultDateRange(now time.Time) DateRange {
	return DateRange{From: DefaultFromDate, To: now.Format(DateLayout)}
}

// Validate checks both dates parse in DateLayout and are ordered
func (r DateRange) Validate() error {
	from, err := time.Parse(DateLayout, r.From)
	if err != nil {
		return fmt.Errorf("invalid from date %q, expected DD/MM/YYYY", r.From)
	}
	to, err := time.Parse(DateLayout, r.To)
	if err != nil {
		return fmt.Errorf("invalid to date %q, expected DD/MM/YYYY", r.To)
	}
	if to.Before(from) {
		return fmt.Errorf("to date %s is before from date %s", r.To, r.From)
	}
	return nil
}

// Operator is the human at the terminal during sign-in
type Operator interface {
	// Pause blocks until the operator confirms they are done
	Pause(ctx context.Context, message string) error
	// ChooseDateRange asks for the default range or a custom one
	ChooseDateRange(ctx context.Context, def DateRange) (DateRange, error)
}

// Screenshotter captures the page when a step fails
type Screenshotter interface {
	Screenshot(name string) (string, error)
}

func capture(s Screenshotter, logger logging.Logger, name string) {
	if s == nil {
		return
	}
	path, err := s.Screenshot(name)
	if err != nil {
		logger.Warn("Failed to capture screenshot", "name", name, "error", err)
		return
	}
	logger.Info("Saved failure screenshot", "path", path)
}
