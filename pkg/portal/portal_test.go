package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dev/bravebird/mar-export/pkg/dom"
	"dev/bravebird/mar-export/pkg/dom/domtest"
	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/models"
)

type fakeOperator struct {
	pauses []string
	chosen *DateRange
}

func (f *fakeOperator) Pause(ctx context.Context, message string) error {
	f.pauses = append(f.pauses, message)
	return nil
}

func (f *fakeOperator) ChooseDateRange(ctx context.Context, def DateRange) (DateRange, error) {
	if f.chosen != nil {
		return *f.chosen, nil
	}
	return def, nil
}

type fakeShots struct {
	names []string
}

func (f *fakeShots) Screenshot(name string) (string, error) {
	f.names = append(f.names, name)
	return "/tmp/" + name + ".png", nil
}

func loginPage() (*domtest.Page, map[string]*domtest.Element) {
	p := domtest.NewPage()
	els := map[string]*domtest.Element{
		"another":  {Label: "Another User"},
		"username": {},
		"password": {},
		"continue": {Label: "Sign In"},
		"reports":  {Label: "Reports"},
		"mar":      {Label: "MAR Report"},
		"start":    {},
		"end":      {},
	}
	p.Set(anotherUserQuery, els["another"])
	p.Set(usernameQuery, els["username"])
	p.Set(passwordQuery, els["password"])
	p.Set(continueQuery, els["continue"])
	p.Set(reportsLinkQuery, els["reports"])
	p.Set(marReportLinkQuery, els["mar"])
	p.Set(startDateQuery, els["start"])
	p.Set(endDateQuery, els["end"])
	return p, els
}

func TestLogin(t *testing.T) {
	p, els := loginPage()
	op := &fakeOperator{}
	n := NewNavigator(p, op, nil, NavigatorOptions{}, logging.Discard())

	err := n.Login(context.Background(), "https://portal.example/#/app/reports/mar", Credentials{Username: "nurse", Password: "s3cret"})
	require.NoError(t, err)

	require.Equal(t, []string{"https://portal.example/#/app/reports/mar"}, p.Navigated)
	require.Equal(t, 1, els["another"].Clicks)
	require.Equal(t, []string{"nurse"}, els["username"].Typed)
	require.Equal(t, []string{"s3cret"}, els["password"].Typed)
	require.Equal(t, 2, els["continue"].Clicks)
	require.Equal(t, 1, els["reports"].Clicks)
	require.Equal(t, 1, els["mar"].Clicks)
	require.Len(t, op.pauses, 1)
}

func TestLoginStepFailure(t *testing.T) {
	p, _ := loginPage()
	p.Remove(passwordQuery)
	shots := &fakeShots{}
	n := NewNavigator(p, &fakeOperator{}, shots, NavigatorOptions{}, logging.Discard())

	err := n.Login(context.Background(), "https://portal.example", Credentials{Username: "nurse", Password: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `"password"`)
	require.ErrorIs(t, err, dom.ErrTimeout)
	require.Equal(t, []string{"login_password"}, shots.names)
}

func TestSetDateRange(t *testing.T) {
	p, els := loginPage()
	op := &fakeOperator{chosen: &DateRange{From: "01/01/2025", To: "31/01/2025"}}
	n := NewNavigator(p, op, nil, NavigatorOptions{}, logging.Discard())

	r, err := n.ChooseAndSetDateRange(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, "01/01/2025", r.From)
	require.Equal(t, []string{"01/01/2025"}, els["start"].Typed)
	require.Equal(t, []string{"31/01/2025"}, els["end"].Typed)
	require.Equal(t, 1, els["start"].Enters)
	require.Equal(t, 1, els["end"].Enters)
}

func TestDefaultDateRange(t *testing.T) {
	r := DefaultDateRange(time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC))
	require.Equal(t, DateRange{From: "01/09/2024", To: "07/03/2025"}, r)
	require.NoError(t, r.Validate())

	require.Error(t, DateRange{From: "2024-09-01", To: "07/03/2025"}.Validate())
	require.Error(t, DateRange{From: "07/03/2025", To: "01/09/2024"}.Validate())
}

func TestWaitForManualSetup(t *testing.T) {
	p := domtest.NewPage()
	op := &fakeOperator{}
	n := NewNavigator(p, op, nil, NavigatorOptions{}, logging.Discard())

	require.NoError(t, n.WaitForManualSetup(context.Background(), "https://portal.example/#/app/reports/mar"))
	require.Len(t, op.pauses, 1)
	require.Equal(t, "https://portal.example/#/app/reports/mar", p.URL())
}

func reportPage() (*domtest.Page, *domtest.Element, *domtest.Element) {
	p := domtest.NewPage()
	generate := &domtest.Element{Label: "Generate Report"}
	csv := &domtest.Element{Label: "Generate CSV"}
	p.Set(generateButtonQuery, generate)
	p.Set(csvLinkQuery, csv)
	return p, generate, csv
}

func TestGenerateDownloadsCSV(t *testing.T) {
	p, generate, csv := reportPage()
	downloads := &domtest.Downloads{Path: "/downloads/MAR Report.csv"}
	r := NewReporter(p, downloads, nil, ReportTimeouts{}, logging.Discard())

	out := r.Generate(context.Background())
	require.Equal(t, models.ReportGenerated, out.Status)
	require.Equal(t, "/downloads/MAR Report.csv", out.DownloadPath)
	require.True(t, out.Succeeded())
	require.Equal(t, 1, generate.Clicks)
	require.Equal(t, 1, csv.Clicks)
	require.Equal(t, 1, downloads.Armed)
	require.Equal(t, 1, downloads.Released)
}

func TestGenerateNoRecords(t *testing.T) {
	p, _, csv := reportPage()
	p.Set(noRecordsQuery, &domtest.Element{Label: "No Records!"})
	r := NewReporter(p, nil, nil, ReportTimeouts{}, logging.Discard())

	out := r.Generate(context.Background())
	require.Equal(t, models.ReportNoRecords, out.Status)
	require.True(t, out.Succeeded())
	require.Zero(t, csv.Clicks)
}

func TestGenerateProceedPopup(t *testing.T) {
	p, _, _ := reportPage()
	proceed := &domtest.Element{Label: "Proceed Anyway"}
	modal := &domtest.Element{}
	proceed.OnClick = func() error {
		modal.Hidden = true
		return nil
	}
	p.Set(proceedButtonQuery, proceed)
	p.Set(modalQuery, modal)
	r := NewReporter(p, nil, nil, ReportTimeouts{}, logging.Discard())

	out := r.Generate(context.Background())
	require.Equal(t, models.ReportGenerated, out.Status)
	require.Equal(t, 1, proceed.Clicks)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(p *domtest.Page)
		downloads *domtest.Downloads
		shot      string
	}{
		{
			name:  "no generate button",
			setup: func(p *domtest.Page) { p.Remove(generateButtonQuery) },
			shot:  "report_generate_report",
		},
		{
			name:  "csv link never appears",
			setup: func(p *domtest.Page) { p.Remove(csvLinkQuery) },
			shot:  "report_csv_export",
		},
		{
			name:      "download times out",
			setup:     func(p *domtest.Page) {},
			downloads: &domtest.Downloads{Err: dom.ErrTimeout},
			shot:      "report_csv_export",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := reportPage()
			tt.setup(p)
			shots := &fakeShots{}
			var downloads dom.Downloads
			if tt.downloads != nil {
				downloads = tt.downloads
			}
			r := NewReporter(p, downloads, shots, ReportTimeouts{}, logging.Discard())

			out := r.Generate(context.Background())
			require.Equal(t, models.ReportFailed, out.Status)
			require.False(t, out.Succeeded())
			require.NotEmpty(t, out.ErrorMessage)
			require.Equal(t, []string{tt.shot}, shots.names)
		})
	}
}

func TestGenerateClickError(t *testing.T) {
	p, generate, _ := reportPage()
	generate.OnClick = func() error { return errors.New("element click intercepted") }
	r := NewReporter(p, nil, nil, ReportTimeouts{}, logging.Discard())

	out := r.Generate(context.Background())
	require.Equal(t, models.ReportFailed, out.Status)
	require.Contains(t, out.ErrorMessage, "intercepted")
}

func TestGenerateReleasesDownloadWhenExportClickFails(t *testing.T) {
	p, _, csv := reportPage()
	csv.OnClick = func() error { return errors.New("element click intercepted") }
	downloads := &domtest.Downloads{Path: "/downloads/MAR Report.csv"}
	r := NewReporter(p, downloads, nil, ReportTimeouts{}, logging.Discard())

	out := r.Generate(context.Background())
	require.Equal(t, models.ReportFailed, out.Status)
	require.Equal(t, 1, downloads.Armed)
	require.Zero(t, downloads.Waited)
	require.Equal(t, 1, downloads.Released)
}
