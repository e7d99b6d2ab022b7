package state

import (
	"errors"
	"fmt"
	"math"
)

type Category uint8

const (
	Computed Category = iota
	WrongComputed
	Requested
	Payment
	Resource
)

var categoryNames = []string{
	"computed",
	"wrong_computed",
	"requested",
	"payment",
	"resource",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trust category %q", s)
}

type Sign int8

const (
	Positive Sign = 1
	Negative Sign = -1
)

func (s Sign) String() string {
	if s == Negative {
		return "decrease"
	}
	return "increase"
}

func ParseSign(s string) (Sign, error) {
	switch s {
	case "increase", "inc", "+":
		return Positive, nil
	case "decrease", "dec", "-":
		return Negative, nil
	}
	return 0, fmt.Errorf("unknown trust direction %q", s)
}

var (
	ErrInvalidAmount = errors.New("trust amount must be a finite positive number")
	ErrSelfOpinion   = errors.New("neighbour opinion about itself")
)

// Counter identifies the LocalRank counter touched by a (category, sign) interaction.
// wrong_computed is a single counter regardless of sign.
type Counter uint8

const (
	CounterPositiveComputed Counter = iota
	CounterNegativeComputed
	CounterWrongComputed
	CounterPositiveRequested
	CounterNegativeRequested
	CounterPositivePayment
	CounterNegativePayment
	CounterPositiveResource
	CounterNegativeResource
)

var counterColumns = []string{
	"positive_computed",
	"negative_computed",
	"wrong_computed",
	"positive_requested",
	"negative_requested",
	"positive_payment",
	"negative_payment",
	"positive_resource",
	"negative_resource",
}

func (c Counter) Column() string {
	return counterColumns[c]
}

func CounterFor(cat Category, sign Sign) (Counter, error) {
	if sign != Positive && sign != Negative {
		return 0, fmt.Errorf("invalid sign %d", sign)
	}
	pos := sign == Positive
	switch cat {
	case Computed:
		if pos {
			return CounterPositiveComputed, nil
		}
		return CounterNegativeComputed, nil
	case WrongComputed:
		return CounterWrongComputed, nil
	case Requested:
		if pos {
			return CounterPositiveRequested, nil
		}
		return CounterNegativeRequested, nil
	case Payment:
		if pos {
			return CounterPositivePayment, nil
		}
		return CounterNegativePayment, nil
	case Resource:
		if pos {
			return CounterPositiveResource, nil
		}
		return CounterNegativeResource, nil
	}
	return 0, fmt.Errorf("unknown trust category %d", cat)
}

// Apply adds amount to the counter of l
func (c Counter) Apply(l *LocalRank, amount float64) {
	switch c {
	case CounterPositiveComputed:
		l.PositiveComputed += amount
	case CounterNegativeComputed:
		l.NegativeComputed += amount
	case CounterWrongComputed:
		l.WrongComputed += amount
	case CounterPositiveRequested:
		l.PositiveRequested += amount
	case CounterNegativeRequested:
		l.NegativeRequested += amount
	case CounterPositivePayment:
		l.PositivePayment += amount
	case CounterNegativePayment:
		l.NegativePayment += amount
	case CounterPositiveResource:
		l.PositiveResource += amount
	case CounterNegativeResource:
		l.NegativeResource += amount
	}
}

func ValidateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
