// Package models provides domain models for the PnL application.
package models

import (
	"time"
)

// TradeType represents the kind of instrument a trade was made in.
type TradeType string

const (
	TradeTypeFuture TradeType = "future"
	TradeTypeOption TradeType = "option"
	TradeTypeSpot   TradeType = "spot"
)

// Direction represents the side of a fill.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// OptionRight represents the right of an option contract.
type OptionRight string

const (
	OptionCall OptionRight = "call"
	OptionPut  OptionRight = "put"
)

// PositionSide represents the net side of a position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// TransactionTypeTrade is the transaction log type of an actual fill.
const TransactionTypeTrade = "trade"

// TimeRange is an inclusive range of timestamps.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultLookback is the range start used when only the end is known.
const DefaultLookback = 14 * 24 * time.Hour

// ResolveTimeRange fills in missing bounds: end defaults to asOf and start
// defaults to end minus lookback (two weeks when lookback is zero).
func ResolveTimeRange(start, end, asOf time.Time, lookback time.Duration) TimeRange {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if end.IsZero() {
		end = asOf
	}
	if start.IsZero() {
		start = end.Add(-lookback)
	}
	return TimeRange{Start: start, End: end}
}

// Contains reports whether t falls inside the inclusive range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// StartMillis returns the range start as epoch milliseconds.
func (r TimeRange) StartMillis() int64 {
	return r.Start.UnixMilli()
}

// EndMillis returns the range end as epoch milliseconds.
func (r TimeRange) EndMillis() int64 {
	return r.End.UnixMilli()
}
