// Package instrument classifies Deribit instrument names.
//
// Deribit names follow a dash-separated layout:
//
//	BTC-PERPETUAL          perpetual future
//	BTC-29DEC23            dated future
//	BTC-25AUG23-30000-C    option (underlying, expiry, strike, right)
//	BTC                    spot
package instrument

import (
	"strconv"
	"strings"
	"time"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/models"
)

// dateLayout parses Deribit expiry codes such as 25AUG23 or 5SEP23.
// Month names are matched case-insensitively by time.Parse.
const dateLayout = "2Jan06"

// Classify parses an instrument name into its type, expiry and option fields.
func Classify(name string) (models.Instrument, error) {
	inst := models.Instrument{Name: name}

	if strings.Contains(name, models.PerpetualExpiry) {
		inst.Type = models.TradeTypeFuture
		inst.Expiry = models.Perpetual()
		return inst, nil
	}

	parts := strings.Split(name, "-")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return inst, apperrors.NewClassificationError(name, "empty instrument name", nil)
		}
		inst.Type = models.TradeTypeSpot
		inst.Expiry = models.NoExpiry()
		return inst, nil

	case 2:
		expiry, err := ParseExpiry(parts[1])
		if err != nil {
			return inst, apperrors.NewClassificationError(name, "invalid expiry", err)
		}
		inst.Type = models.TradeTypeFuture
		inst.Expiry = expiry
		return inst, nil

	case 4:
		expiry, err := ParseExpiry(parts[1])
		if err != nil {
			return inst, apperrors.NewClassificationError(name, "invalid expiry", err)
		}
		strike, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return inst, apperrors.NewClassificationError(name, "invalid strike", err)
		}
		right, ok := parseRight(parts[3])
		if !ok {
			return inst, apperrors.NewClassificationError(name, "invalid option right "+strconv.Quote(parts[3]), nil)
		}
		inst.Type = models.TradeTypeOption
		inst.Expiry = expiry
		inst.Option = &models.OptionSpec{Strike: strike, Right: right}
		return inst, nil

	default:
		return inst, apperrors.NewClassificationError(name, "unrecognized format: "+strconv.Itoa(len(parts))+" segments", nil)
	}
}

// ParseExpiry parses a compact day-month-year code into a dated expiry.
func ParseExpiry(code string) (models.Expiry, error) {
	t, err := time.Parse(dateLayout, code)
	if err != nil {
		return models.Expiry{}, err
	}
	return models.ExpiresOn(t), nil
}

func parseRight(s string) (models.OptionRight, bool) {
	switch strings.ToUpper(s) {
	case "C":
		return models.OptionCall, true
	case "P":
		return models.OptionPut, true
	default:
		return "", false
	}
}

// Underlying returns the underlying currency segment of an instrument name.
func Underlying(name string) string {
	if i := strings.IndexByte(name, '-'); i >= 0 {
		return name[:i]
	}
	return name
}

// SettlementIndex returns the delivery price index for an instrument,
// e.g. btc_usd for BTC-25AUG23-30000-C.
func SettlementIndex(name string) string {
	return strings.ToLower(Underlying(name)) + "_usd"
}
