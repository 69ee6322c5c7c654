// Package operator is the terminal surface the human running an export
// interacts with: menus, confirmations, and pauses while they act in the
// browser.
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"dev/bravebird/mar-export/pkg/chunking"
	"dev/bravebird/mar-export/pkg/dropdown"
	"dev/bravebird/mar-export/pkg/models"
	"dev/bravebird/mar-export/pkg/names"
	"dev/bravebird/mar-export/pkg/portal"
)

// Terminal prompts on in and prints to out
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

var (
	_ dropdown.Operator       = (*Terminal)(nil)
	_ portal.Operator         = (*Terminal)(nil)
	_ chunking.FailureHandler = (*Terminal)(nil)
	_ chunking.DownloadWaiter = (*Terminal)(nil)
)

// New creates a terminal over in and out
func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// Println writes a line to the terminal
func (t *Terminal) Println(a ...interface{}) {
	fmt.Fprintln(t.out, a...)
}

// Printf writes formatted text to the terminal
func (t *Terminal) Printf(format string, a ...interface{}) {
	fmt.Fprintf(t.out, format, a...)
}

// Banner prints a title between rules
func (t *Terminal) Banner(title string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(t.out, "\n%s\n%s\n%s\n", rule, title, rule)
}

// Ask prints prompt and returns the trimmed answer. A closed input returns
// io.EOF so callers can stop instead of looping on empty answers.
func (t *Terminal) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Choose asks until the answer is one of options, falling back to def on
// an empty answer.
func (t *Terminal) Choose(ctx context.Context, prompt string, options []string, def string) (string, error) {
	for {
		answer, err := t.Ask(ctx, prompt)
		if err != nil {
			return def, err
		}
		if answer == "" && def != "" {
			return def, nil
		}
		for _, o := range options {
			if strings.EqualFold(answer, o) {
				return o, nil
			}
		}
		fmt.Fprintf(t.out, "Invalid choice %q, expected one of %s\n", answer, strings.Join(options, "/"))
	}
}

// Confirm asks a y/n question; anything but y is no. The prompt is the bare
// question, a trailing "(y/n):" is not repeated.
func (t *Terminal) Confirm(ctx context.Context, prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	prompt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(prompt, ":"), "(y/n)"))
	answer, err := t.Ask(ctx, prompt+" (y/n): ")
	return err == nil && strings.EqualFold(answer, "y")
}

// Pause waits for Enter
func (t *Terminal) Pause(ctx context.Context, message string) error {
	_, err := t.Ask(ctx, message+" ")
	return err
}

// ManualIntervention shows instructions and waits for the operator to fix
// the dropdown by hand.
func (t *Terminal) ManualIntervention(ctx context.Context, instructions []string) {
	t.Banner("MANUAL INTERVENTION REQUIRED")
	for i, step := range instructions {
		fmt.Fprintf(t.out, "%d. %s\n", i+1, step)
	}
	_ = t.Pause(ctx, "Press Enter when the dropdown is cleared...")
}

// ChooseDateRange offers the default range or a custom one
func (t *Terminal) ChooseDateRange(ctx context.Context, def portal.DateRange) (portal.DateRange, error) {
	answer, err := t.Ask(ctx, fmt.Sprintf("Enter 'D' to use default dates (%s to %s), or 'C' to enter custom dates: ", def.From, def.To))
	if err != nil {
		return def, err
	}
	switch strings.ToLower(answer) {
	case "d":
		return def, nil
	case "c":
		for {
			from, err := t.Ask(ctx, "Please enter the 'From' date in DD/MM/YYYY format: ")
			if err != nil {
				return def, err
			}
			to, err := t.Ask(ctx, "Please enter the 'To' date in DD/MM/YYYY format: ")
			if err != nil {
				return def, err
			}
			r := portal.DateRange{From: from, To: to}
			if err := r.Validate(); err != nil {
				fmt.Fprintf(t.out, "%v, try again\n", err)
				continue
			}
			return r, nil
		}
	default:
		fmt.Fprintln(t.out, "Invalid choice. Using default dates.")
		return def, nil
	}
}

// OnConsecutiveFailures offers the recovery options after repeated failures
func (t *Terminal) OnConsecutiveFailures(ctx context.Context, count int) chunking.FailureAction {
	fmt.Fprintf(t.out, "\nWARNING: %d consecutive failures detected!\n", count)
	fmt.Fprintln(t.out, "This might indicate a problem with the dropdown or remaining items.")
	fmt.Fprintln(t.out, "1. Continue trying")
	fmt.Fprintln(t.out, "2. Skip remaining items in this chunk")
	fmt.Fprintln(t.out, "3. Use 'Select All' to select everything remaining")

	answer, err := t.Ask(ctx, "Select option (1, 2, or 3): ")
	if err != nil {
		return chunking.ActionContinue
	}
	switch answer {
	case "2":
		return chunking.ActionSkipRemaining
	case "3":
		return chunking.ActionSelectAll
	default:
		return chunking.ActionContinue
	}
}

// AwaitReportDownload asks the operator to generate and download the
// chunk's report by hand.
func (t *Terminal) AwaitReportDownload(ctx context.Context, num, total int, next *models.Chunk) error {
	t.Banner(fmt.Sprintf("CHUNK %d COMPLETE - GENERATE REPORT NOW", num))
	fmt.Fprintln(t.out, "Your selections are ready! Please now:")
	fmt.Fprintln(t.out, "1. Click the 'Generate Report' button")
	fmt.Fprintln(t.out, "2. Wait for the report to generate")
	fmt.Fprintln(t.out, "3. Download the report")
	fmt.Fprintln(t.out, "4. Come back here when ready")
	fmt.Fprintf(t.out, "\nProgress: %d/%d chunks completed\n", num, total)
	if next != nil {
		fmt.Fprintf(t.out, "Next: Chunk %d (Items %d-%d)\n", num+1, next.StartIndex, next.EndIndex)
	}
	return t.Pause(ctx, fmt.Sprintf("Press Enter after downloading Chunk %d report...", num))
}

// ResumeAction is the answer to a leftover checkpoint
type ResumeAction int

const (
	ResumeRun ResumeAction = iota + 1
	StartNewRun
	CancelRun
)

// AskResume describes a leftover checkpoint and asks what to do with it
func (t *Terminal) AskResume(ctx context.Context, cp *models.Checkpoint) ResumeAction {
	t.Banner("PREVIOUS CHUNKING SESSION DETECTED")
	fmt.Fprintf(t.out, "File: %s\n", cp.FilePath)
	fmt.Fprintf(t.out, "Total items: %d\n", cp.TotalItems)
	fmt.Fprintf(t.out, "Previous chunk size: %d\n", cp.ChunkSize)
	fmt.Fprintf(t.out, "Completed: %d/%d\n", cp.CurrentChunk-1, cp.TotalChunks)
	if cp.RegionFilter != nil {
		fmt.Fprintf(t.out, "Region filter: %s\n", *cp.RegionFilter)
	}
	fmt.Fprintf(t.out, "Next chunk: %d\n\n", cp.CurrentChunk)
	fmt.Fprintf(t.out, "1. Resume previous session (chunk size %d)\n", cp.ChunkSize)
	fmt.Fprintln(t.out, "2. Start new session (choose new chunk size)")
	fmt.Fprintln(t.out, "3. Cancel")

	answer, err := t.Ask(ctx, "Select option (1, 2, or 3): ")
	if err != nil {
		return CancelRun
	}
	switch answer {
	case "1":
		return ResumeRun
	case "2":
		return StartNewRun
	default:
		return CancelRun
	}
}

// AskRegion offers an optional region filter. It returns nil for all regions.
func (t *Terminal) AskRegion(ctx context.Context, regions []names.RegionCount) *string {
	t.Banner("REGION FILTER")
	fmt.Fprintln(t.out, "1. All regions (no filter)")
	fmt.Fprintln(t.out, "2. Filter by specific region")
	answer, err := t.Ask(ctx, "Select option (1 or 2): ")
	if err != nil || answer != "2" {
		return nil
	}
	if len(regions) == 0 {
		fmt.Fprintln(t.out, "No 'Region' column found in the file. Using all locations.")
		return nil
	}

	fmt.Fprintln(t.out, "\nAvailable regions:")
	for i, r := range regions {
		fmt.Fprintf(t.out, "  %d. %s (%d locations)\n", i+1, r.Region, r.Count)
	}
	answer, err = t.Ask(ctx, fmt.Sprintf("Select region number (1-%d): ", len(regions)))
	if err != nil {
		return nil
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(regions) {
		fmt.Fprintln(t.out, "Invalid input. Using all locations.")
		return nil
	}
	region := regions[n-1].Region
	return &region
}

// AskChunkSize asks for a chunk size; blank or invalid answers use def
func (t *Terminal) AskChunkSize(ctx context.Context, total, def int) int {
	t.Banner("CHUNK SIZE CONFIGURATION")
	fmt.Fprintf(t.out, "Total items to process: %d\n", total)
	answer, err := t.Ask(ctx, fmt.Sprintf("Enter chunk size (default %d): ", def))
	if err != nil || answer == "" {
		return def
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n <= 0 {
		fmt.Fprintf(t.out, "Invalid chunk size. Using default: %d\n", def)
		return def
	}
	return n
}

// MenuChoice is a main menu entry
type MenuChoice int

const (
	MenuSelectAllNames MenuChoice = iota + 1
	MenuRegionFilter
	MenuDropdownSelectAll
	MenuManualChunks
	MenuAutoChunks
	MenuQuit
)

// MainMenu shows the processing options
func (t *Terminal) MainMenu(ctx context.Context, total int) MenuChoice {
	t.Banner("PROCESSING OPTIONS")
	fmt.Fprintf(t.out, "1. Select all %d names one by one\n", total)
	fmt.Fprintln(t.out, "2. Filter by region, then select")
	fmt.Fprintln(t.out, "3. Use the dropdown's 'Select All'")
	fmt.Fprintln(t.out, "4. Process in chunks (generate each report manually)")
	fmt.Fprintln(t.out, "5. Process in chunks with automatic reports")
	fmt.Fprintln(t.out, "6. Quit")

	answer, err := t.Ask(ctx, "Select option (1-6): ")
	if err != nil {
		return MenuQuit
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < int(MenuSelectAllNames) || n > int(MenuQuit) {
		return MenuQuit
	}
	return MenuChoice(n)
}

// NextAction is offered once a run finishes
type NextAction int

const (
	NextNewRun NextAction = iota + 1
	NextMainMenu
	NextQuit
)

// AskNext asks what to do after a run
func (t *Terminal) AskNext(ctx context.Context) NextAction {
	fmt.Fprintln(t.out, "\nWhat would you like to do next?")
	fmt.Fprintln(t.out, "1. Start new chunking session")
	fmt.Fprintln(t.out, "2. Return to main menu")
	fmt.Fprintln(t.out, "3. End script and close browser")
	answer, err := t.Ask(ctx, "Select option (1, 2, or 3): ")
	if err != nil {
		return NextQuit
	}
	switch answer {
	case "1":
		return NextNewRun
	case "2":
		return NextMainMenu
	default:
		return NextQuit
	}
}

// AskAutoReport asks whether to generate the report for the current
// selections automatically. Anything but "2" leaves it to the operator.
func (t *Terminal) AskAutoReport(ctx context.Context) bool {
	t.Banner("REPORT GENERATION OPTIONS")
	fmt.Fprintln(t.out, "1. Generate report manually")
	fmt.Fprintln(t.out, "2. Generate report automatically")
	answer, err := t.Ask(ctx, "Select option (1 or 2): ")
	return err == nil && answer == "2"
}
