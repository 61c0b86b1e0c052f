package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"emberdb/entity"
	"emberdb/query"
	"emberdb/value"
)

func widget(price float64, name string) *entity.Entity {
	return entity.New("w", map[string]value.Value{
		"price": value.Float(price),
		"name":  value.String(name),
	})
}

func TestEvalEquals(t *testing.T) {
	e := widget(9.99, "Widget")
	require.True(t, query.Eval(query.Equals("name", value.String("Widget")), e))
	require.False(t, query.Eval(query.Equals("name", value.String("Gadget")), e))
}

func TestEvalComparisonOperators(t *testing.T) {
	e := widget(19.99, "Widget")
	testCases := []struct {
		name string
		pred query.Predicate
		want bool
	}{
		{"gt-true", query.GreaterThan("price", value.Float(10)), true},
		{"gt-false", query.GreaterThan("price", value.Float(20)), false},
		{"lte-true", query.LessThanOrEqual("price", value.Float(19.99)), true},
		{"between-true", query.Between("price", value.Float(10), value.Float(20)), true},
		{"between-false", query.Between("price", value.Float(20), value.Float(30)), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, query.Eval(tc.pred, e))
		})
	}
}

func TestEvalIncompatibleKindsNeverMatch(t *testing.T) {
	e := widget(9.99, "Widget")
	require.False(t, query.Eval(query.Equals("name", value.Int(5)), e))
	require.False(t, query.Eval(query.GreaterThan("name", value.Int(5)), e))
}

func TestEvalAndOrNot(t *testing.T) {
	e := widget(9.99, "Widget")
	require.True(t, query.Eval(query.And(
		query.Equals("name", value.String("Widget")),
		query.LessThan("price", value.Float(20)),
	), e))
	require.False(t, query.Eval(query.And(
		query.Equals("name", value.String("Widget")),
		query.GreaterThan("price", value.Float(20)),
	), e))
	require.True(t, query.Eval(query.Or(
		query.Equals("name", value.String("Gadget")),
		query.LessThan("price", value.Float(20)),
	), e))
	require.True(t, query.Eval(query.Not(query.Equals("name", value.String("Gadget"))), e))
}

func TestEvalContainsAndPrefix(t *testing.T) {
	e := entity.New("d", map[string]value.Value{
		"tags": value.List([]value.Value{value.String("a"), value.String("b")}),
		"slug": value.String("widget-123"),
	})
	require.True(t, query.Eval(query.Contains("tags", value.String("a")), e))
	require.False(t, query.Eval(query.Contains("tags", value.String("z")), e))
	require.True(t, query.Eval(query.Prefix("slug", value.String("widget")), e))
}

func TestPredicateFieldsCollectsAcrossTree(t *testing.T) {
	p := query.And(
		query.Equals("price", value.Float(1)),
		query.Or(query.GreaterThan("stock", value.Int(0)), query.Equals("name", value.String("x"))),
	)
	fields := p.Fields()
	require.True(t, fields["price"])
	require.True(t, fields["stock"])
	require.True(t, fields["name"])
	require.Len(t, fields, 3)
}

func TestEvalFullTextPredicatesAreIndexOnly(t *testing.T) {
	e := widget(9.99, "Widget")
	require.False(t, query.Eval(query.FullText("name", "widget"), e))
}
