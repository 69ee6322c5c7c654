package dropdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectPresentOption(t *testing.T) {
	ctx := context.Background()
	w := newWidget("Oak House", "Elm House", "Pine House")
	e := newTestEngine(w, nil)

	require.True(t, e.Select(ctx, "Oak House"))
	require.Equal(t, []string{"Oak House"}, w.selected)

	label, ok := e.Probe(ctx)
	require.True(t, ok)
	require.Equal(t, "Oak House", label)

	// The anchor stays on the first badge as more items are added.
	require.True(t, e.Select(ctx, "Elm House"))
	require.Equal(t, []string{"Oak House", "Elm House"}, w.selected)
	label, _ = e.Probe(ctx)
	require.Equal(t, "Oak House", label)
}

func TestSelectMissingOption(t *testing.T) {
	ctx := context.Background()
	w := newWidget("Oak House", "Elm House")
	w.selected = []string{"Elm House"}
	e := newTestEngine(w, nil)

	require.False(t, e.Select(ctx, "Birch House"))
	require.Equal(t, []string{"Elm House"}, w.selected)
}

func TestSelectUntilAllUnits(t *testing.T) {
	ctx := context.Background()
	w := newWidget("Oak House", "Elm House")
	e := newTestEngine(w, nil)

	require.True(t, e.Select(ctx, "Oak House"))
	require.True(t, e.Select(ctx, "Elm House"))

	label, ok := e.Probe(ctx)
	require.True(t, ok)
	require.Equal(t, AllUnitsLabel, label)
}

func TestSelectRetriesStaleAnchor(t *testing.T) {
	tests := []struct {
		name        string
		staleClicks int
		want        bool
	}{
		{name: "no stale", staleClicks: 0, want: true},
		{name: "stale once", staleClicks: 1, want: true},
		{name: "stale twice", staleClicks: 2, want: true},
		{name: "retries exhausted", staleClicks: 3, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWidget("Oak House", "Elm House")
			w.staleClicks = tt.staleClicks
			e := newTestEngine(w, nil)

			got := e.Select(context.Background(), "Elm House")
			if got != tt.want {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
			if tt.want {
				require.Equal(t, []string{"Elm House"}, w.selected)
			} else {
				require.Empty(t, w.selected)
			}
		})
	}
}

func TestSelectFallsBackToNativeClick(t *testing.T) {
	w := newWidget("Oak House")
	w.jsBroken = true
	e := newTestEngine(w, nil)

	require.True(t, e.Select(context.Background(), "Oak House"))
	require.Equal(t, 1, w.nativeClicks)
	require.Equal(t, []string{"Oak House"}, w.selected)
}

func TestClearAll(t *testing.T) {
	tests := []struct {
		name           string
		selected       []string
		wantSelectAllN int
	}{
		{name: "already empty", selected: nil, wantSelectAllN: 0},
		{name: "partial selection", selected: []string{"Elm House"}, wantSelectAllN: 2},
		{name: "everything selected", selected: []string{"Oak House", "Elm House", "Pine House"}, wantSelectAllN: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWidget("Oak House", "Elm House", "Pine House")
			w.selected = tt.selected
			op := &recordingOperator{}
			e := newTestEngine(w, op)

			require.True(t, e.ClearAll(context.Background()))
			require.Empty(t, w.selected)
			require.Equal(t, tt.wantSelectAllN, w.selectAllClicks)
			require.Zero(t, op.calls)
		})
	}
}

func TestClearAllAsksOperatorWhenToggleUnavailable(t *testing.T) {
	w := newWidget("Oak House", "Elm House")
	w.selected = []string{"Oak House"}
	w.noSelectAll = true
	op := &recordingOperator{}
	e := newTestEngine(w, op)

	require.False(t, e.ClearAll(context.Background()))
	require.Equal(t, 1, op.calls)
}

func TestSelectAllThenClearAll(t *testing.T) {
	ctx := context.Background()
	w := newWidget("Oak House", "Elm House", "Pine House")
	e := newTestEngine(w, nil)

	require.True(t, e.SelectAll(ctx))
	require.Len(t, w.selected, 3)
	label, _ := e.Probe(ctx)
	require.Equal(t, AllUnitsLabel, label)

	require.True(t, e.ClearAll(ctx))
	require.Empty(t, w.selected)
	_, ok := e.Probe(ctx)
	require.False(t, ok)
}

func TestSelectAllNeedsEmptyDropdown(t *testing.T) {
	w := newWidget("Oak House", "Elm House")
	w.selected = []string{"Oak House"}
	e := newTestEngine(w, nil)

	require.False(t, e.SelectAll(context.Background()))
	require.Equal(t, []string{"Oak House"}, w.selected)
}

func TestSelectStopsOnCanceledContext(t *testing.T) {
	w := newWidget("Oak House")
	e := New(w.page, Options{OpenRetries: 1, SettleDelay: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, e.Select(ctx, "Oak House"))
	require.Empty(t, w.selected)
}
