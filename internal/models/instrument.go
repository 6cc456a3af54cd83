package models

import "time"

type expiryKind uint8

const (
	expiryNone expiryKind = iota
	expiryPerpetual
	expiryDate
)

// PerpetualExpiry is the sentinel printed for perpetual instruments.
const PerpetualExpiry = "PERP"

// Expiry is either absent (spot), perpetual, or a calendar date.
type Expiry struct {
	kind expiryKind
	date time.Time
}

// NoExpiry returns the expiry of an instrument that never expires (spot).
func NoExpiry() Expiry {
	return Expiry{}
}

// Perpetual returns the perpetual expiry sentinel.
func Perpetual() Expiry {
	return Expiry{kind: expiryPerpetual}
}

// ExpiresOn returns a dated expiry truncated to the UTC calendar day.
func ExpiresOn(t time.Time) Expiry {
	y, m, d := t.UTC().Date()
	return Expiry{kind: expiryDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsNone reports whether the instrument has no expiry.
func (e Expiry) IsNone() bool {
	return e.kind == expiryNone
}

// IsPerpetual reports whether the expiry is the perpetual sentinel.
func (e Expiry) IsPerpetual() bool {
	return e.kind == expiryPerpetual
}

// Date returns the expiry date and true for dated instruments.
func (e Expiry) Date() (time.Time, bool) {
	return e.date, e.kind == expiryDate
}

// ExpiredAt reports whether a dated expiry lies strictly before t.
func (e Expiry) ExpiredAt(t time.Time) bool {
	return e.kind == expiryDate && e.date.Before(t)
}

func (e Expiry) String() string {
	switch e.kind {
	case expiryPerpetual:
		return PerpetualExpiry
	case expiryDate:
		return e.date.Format("2006-01-02")
	default:
		return ""
	}
}

// MarshalText renders the expiry as "", "PERP" or an ISO date.
func (e Expiry) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// OptionSpec holds the option-only fields of an instrument.
type OptionSpec struct {
	Strike int64
	Right  OptionRight
}

// Instrument is a classified instrument name. Option is set iff Type is option.
type Instrument struct {
	Name   string
	Type   TradeType
	Expiry Expiry
	Option *OptionSpec
}

// IsFuture reports whether the instrument is a perpetual or dated future.
func (i Instrument) IsFuture() bool {
	return i.Type == TradeTypeFuture
}

// IsOption reports whether the instrument is an option.
func (i Instrument) IsOption() bool {
	return i.Type == TradeTypeOption
}
