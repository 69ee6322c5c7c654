package dropdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"dev/bravebird/mar-export/pkg/dom/domtest"
	"dev/bravebird/mar-export/pkg/logging"
)

func TestFindOptionStrategyOrder(t *testing.T) {
	p := domtest.NewPage()
	qs := optionQueries("Oak House")

	hidden := &domtest.Element{Label: "Oak House", Hidden: true}
	span := &domtest.Element{Label: "Oak House"}
	role := &domtest.Element{Label: "Oak House"}
	p.Set(qs[0], hidden)
	p.Set(qs[1], span)
	p.Set(qs[4], role)

	e := New(p, fastOptions(), logging.Discard(), nil)
	got, ok := e.FindOption(context.Background(), "Oak House")
	require.True(t, ok)
	require.Same(t, span, got)
}

func TestFindOptionTextFallback(t *testing.T) {
	tests := []struct {
		name   string
		els    []*domtest.Element
		wantOK bool
		want   int
	}{
		{
			name: "menu ancestor",
			els: []*domtest.Element{
				{Label: "Oak House", Class: "page-title"},
				{Label: "Oak House", Class: "css-11unzgr-MenuList"},
			},
			wantOK: true,
			want:   1,
		},
		{
			name: "hidden option skipped",
			els: []*domtest.Element{
				{Label: "Oak House", Class: "option", Hidden: true},
				{Label: "Oak House", Class: "css-option"},
			},
			wantOK: true,
			want:   1,
		},
		{
			name: "outside dropdown",
			els: []*domtest.Element{
				{Label: "Oak House", Class: "report-header"},
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domtest.NewPage()
			p.Set(textQuery("Oak House"), tt.els...)
			e := New(p, fastOptions(), logging.Discard(), nil)

			got, ok := e.FindOption(context.Background(), "Oak House")
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.Same(t, tt.els[tt.want], got)
			}
		})
	}
}

func TestOptionQueriesQuoteApostrophes(t *testing.T) {
	for _, q := range optionQueries("St Mary's") {
		require.Contains(t, q.Selector, `"St Mary's"`)
	}
}
