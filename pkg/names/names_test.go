package names

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Oak &amp; Elm", want: "Oak & Elm"},
		{in: "St Mary\u2019s", want: "St Mary's"},
		{in: "North \u2013 East", want: "North - East"},
		{in: "\u201cThe Willows\u201d", want: `"The Willows"`},
		{in: "Wait\u2026", want: "Wait..."},
		{in: "  &lt;Annex&gt;  ", want: "<Annex>"},
		{in: "&quot;A&quot; &#39;B&#39;", want: `"A" 'B'`},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

const masterCSV = "\ufeffID,Location Name,Region\n" +
	"1,Oak House,North\n" +
	"2,St Mary\u2019s,South\n" +
	"3,,North\n" +
	"4,Elm &amp; Ash,North\n" +
	"5,Pine House\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNamesFromCSV(t *testing.T) {
	path := writeFile(t, "locations.csv", masterCSV)

	names, used, table, err := Names(path, DefaultColumn)
	require.NoError(t, err)
	require.Equal(t, DefaultColumn, used)
	require.Equal(t, []string{"Oak House", "St Mary's", "Elm & Ash", "Pine House"}, names)
	require.Equal(t, "ID", table.Header[0])
}

func TestNamesFallsBackToSecondColumn(t *testing.T) {
	path := writeFile(t, "locations.csv", "Code,Home\nA,Oak House\nB,Elm House\n")

	names, used, _, err := Names(path, DefaultColumn)
	require.NoError(t, err)
	require.Equal(t, "Home", used)
	require.Equal(t, []string{"Oak House", "Elm House"}, names)
}

func TestNamesErrors(t *testing.T) {
	_, _, _, err := Names(writeFile(t, "one.csv", "Only\nx\n"), DefaultColumn)
	require.Error(t, err)

	_, _, _, err = Names(writeFile(t, "list.txt", "a"), DefaultColumn)
	require.ErrorContains(t, err, "CSV or Excel")

	_, _, _, err = Names(writeFile(t, "old.xls", "a"), DefaultColumn)
	require.ErrorContains(t, err, ".xls")

	_, _, _, err = Names(filepath.Join(t.TempDir(), "missing.csv"), DefaultColumn)
	require.Error(t, err)

	_, _, _, err = Names(writeFile(t, "empty.csv", ""), DefaultColumn)
	require.Error(t, err)
}

func TestNamesFromXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"ID", "Location Name", "Region"},
		{1, "Oak House", "North"},
		{2, "Elm House", "South"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), "locations.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	names, used, table, err := Names(path, DefaultColumn)
	require.NoError(t, err)
	require.Equal(t, DefaultColumn, used)
	require.Equal(t, []string{"Oak House", "Elm House"}, names)
	require.True(t, table.HasRegions())
}

func TestRegions(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(strings.TrimPrefix(masterCSV, "\ufeff")))
	require.NoError(t, err)

	require.Equal(t, []RegionCount{
		{Region: "North", Count: 3},
		{Region: "South", Count: 1},
	}, table.Regions())

	require.Equal(t, []string{"Oak House", "Elm & Ash"}, table.NamesInRegion(DefaultColumn, "North"))
	require.Empty(t, table.NamesInRegion(DefaultColumn, "West"))

	noRegion, err := ReadCSV(strings.NewReader("ID,Location Name\n1,Oak House\n"))
	require.NoError(t, err)
	require.False(t, noRegion.HasRegions())
	require.Nil(t, noRegion.Regions())
}
