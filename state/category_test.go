package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterFor(t *testing.T) {
	cases := []struct {
		cat    Category
		sign   Sign
		column string
	}{
		{Computed, Positive, "positive_computed"},
		{Computed, Negative, "negative_computed"},
		{WrongComputed, Positive, "wrong_computed"},
		{WrongComputed, Negative, "wrong_computed"},
		{Requested, Positive, "positive_requested"},
		{Requested, Negative, "negative_requested"},
		{Payment, Positive, "positive_payment"},
		{Payment, Negative, "negative_payment"},
		{Resource, Positive, "positive_resource"},
		{Resource, Negative, "negative_resource"},
	}
	for _, c := range cases {
		counter, err := CounterFor(c.cat, c.sign)
		require.NoError(t, err)
		assert.Equal(t, c.column, counter.Column(), "%s %s", c.cat, c.sign)
	}

	_, err := CounterFor(Category(42), Positive)
	assert.Error(t, err)
	_, err = CounterFor(Computed, Sign(0))
	assert.Error(t, err)
}

func TestCounterApply(t *testing.T) {
	l := LocalRank{NodeId: "x"}
	CounterPositiveComputed.Apply(&l, 3)
	CounterWrongComputed.Apply(&l, 1)
	CounterNegativePayment.Apply(&l, 2)
	CounterPositiveComputed.Apply(&l, 1)
	assert.Equal(t, LocalRank{NodeId: "x", PositiveComputed: 4, WrongComputed: 1, NegativePayment: 2}, l)
}

func TestParseCategory(t *testing.T) {
	for i, name := range categoryNames {
		c, err := ParseCategory(name)
		require.NoError(t, err)
		assert.Equal(t, Category(i), c)
		assert.Equal(t, name, c.String())
	}
	_, err := ParseCategory("bribe")
	assert.Error(t, err)
}

func TestParseSign(t *testing.T) {
	s, err := ParseSign("increase")
	require.NoError(t, err)
	assert.Equal(t, Positive, s)
	s, err = ParseSign("-")
	require.NoError(t, err)
	assert.Equal(t, Negative, s)
	_, err = ParseSign("sideways")
	assert.Error(t, err)
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(1))
	assert.NoError(t, ValidateAmount(0.5))
	assert.ErrorIs(t, ValidateAmount(0), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(-1), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(math.NaN()), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(math.Inf(1)), ErrInvalidAmount)
}
