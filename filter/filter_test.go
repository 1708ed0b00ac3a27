package filter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/tablestore/filter"
)

func record(fields map[string]any) filter.Lookup {
	return func(name string) (any, bool) {
		v, ok := fields[name]
		return v, ok
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Name eq 'Acme'", "Name eq 'Acme'"},
		{"Seats GE 10", "Seats ge 10"},
		{"Ratio le 0.5", "Ratio le 0.5"},
		{"Active eq true", "Active eq true"},
		{"Name eq 'O''Brien'", "Name eq 'O''Brien'"},
		{"A eq 1 or B eq 2 and C eq 3", "(A eq 1) or ((B eq 2) and (C eq 3))"},
		{"(A eq 1 or B eq 2) and C eq 3", "((A eq 1) or (B eq 2)) and (C eq 3)"},
		{"Delta eq -4", "Delta eq -4"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := filter.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.String())
		})
	}
}

func TestParse_Empty(t *testing.T) {
	e, err := filter.Parse("   ")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, "", filter.String(e))
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{
		"Name",
		"Name eq",
		"Name ne 'x'",
		"Name eq 'open",
		"(Name eq 'x'",
		"Name eq 'x' and",
		"Name eq 'x' 'y'",
		"Name eq bogus",
		"Name eq 1.2.3",
		"Name eq 'x' #",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := filter.Parse(in)
			assert.ErrorIs(t, err, filter.ErrSyntax)
		})
	}
}

func TestBuilders(t *testing.T) {
	e := filter.And(
		filter.Eq("RowKey", "Id::1"),
		filter.Ge("PartitionKey", "Tenant::"),
		nil,
		filter.Le("PartitionKey", "Tenant::\U0010FFFF"),
	)
	assert.Equal(t, "((RowKey eq 'Id::1') and (PartitionKey ge 'Tenant::')) and (PartitionKey le 'Tenant::\U0010FFFF')", e.String())

	parsed, err := filter.Parse(e.String())
	require.NoError(t, err)
	assert.Equal(t, e.String(), parsed.String())

	assert.Nil(t, filter.Or())
	assert.Equal(t, "A eq 1", filter.Or(nil, filter.Eq("A", int32(1))).String())
}

func TestLiteral(t *testing.T) {
	type seats int16
	when := time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "'it''s'", filter.Literal("it's"))
	assert.Equal(t, "7", filter.Literal(seats(7)))
	assert.Equal(t, "2.0", filter.Literal(2.0))
	assert.Equal(t, "false", filter.Literal(false))
	assert.Equal(t, "'2024-05-01T08:30:00.000000000Z'", filter.Literal(when))
	assert.Equal(t, "'it''s'", filter.Quote("it's"))
}

func TestEval(t *testing.T) {
	rec := record(map[string]any{
		"Name":      "Acme",
		"Seats":     int64(12),
		"Ratio":     0.25,
		"Active":    true,
		"CreatedAt": time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	})

	tests := []struct {
		filter string
		want   bool
	}{
		{"Name eq 'Acme'", true},
		{"Name eq 'acme'", false},
		{"Name ge 'A' and Name le 'B'", true},
		{"Seats ge 12", true},
		{"Seats le 11", false},
		{"Seats ge 11.5", true},
		{"Ratio le 1", true},
		{"Active eq true", true},
		{"Active le false", false},
		{"Seats eq '12'", false},
		{"Missing eq 'x'", false},
		{"Missing eq 'x' or Name eq 'Acme'", true},
		{"CreatedAt ge '2024-05-01T00:00:00.000000000Z'", true},
		{"CreatedAt le '2024-04-30T23:59:59.999999999Z'", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			e := filter.MustParse(tt.filter)
			assert.Equal(t, tt.want, e.Eval(rec))
		})
	}
}
