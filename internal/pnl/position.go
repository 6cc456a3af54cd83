// Package pnl computes trade-level and position-level profit and loss.
package pnl

import (
	"github.com/shopspring/decimal"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/models"
	"deribit-pnl/internal/normalize"
	"deribit-pnl/internal/pricing"
)

// replayStep holds the prefix aggregates after one fill.
type replayStep struct {
	buy      decimal.Decimal
	sell     decimal.Decimal
	avgLong  decimal.Decimal
	avgShort decimal.Decimal
}

// Positions replays the fills of every instrument and returns one row per
// instrument, in order of first appearance. The snapshot must price every
// instrument and currency the trades reference.
func Positions(trades []models.NormalizedTrade, snap *pricing.Snapshot) ([]models.PositionRow, error) {
	if err := snap.Validate(trades); err != nil {
		return nil, err
	}

	var order []string
	groups := make(map[string][]models.NormalizedTrade)
	for _, t := range trades {
		name := t.InstrumentName()
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], t)
	}

	rows := make([]models.PositionRow, 0, len(order))
	for _, name := range order {
		row, err := replay(normalize.SortByTimestamp(groups[name]), snap)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// replay computes the final position of one instrument from its fills,
// which must be sorted by timestamp.
func replay(fills []models.NormalizedTrade, snap *pricing.Snapshot) (models.PositionRow, error) {
	steps := make([]replayStep, len(fills))

	var buy, sell, buyNotional, sellNotional decimal.Decimal
	for i, f := range fills {
		amount := decimal.NewFromFloat(f.Amount)
		notional := amount.Mul(ReplayPrice(f))

		if f.Direction == models.DirectionBuy {
			buy = buy.Add(amount)
			buyNotional = buyNotional.Add(notional)
		} else {
			sell = sell.Add(amount)
			sellNotional = sellNotional.Add(notional)
		}

		steps[i] = replayStep{
			buy:      buy,
			sell:     sell,
			avgLong:  average(buyNotional, buy),
			avgShort: average(sellNotional, sell),
		}
	}

	last := len(fills) - 1
	final := steps[last]
	head := fills[last]

	live, err := LivePrice(head.Instrument, head.Currency, snap)
	if err != nil {
		return models.PositionRow{}, err
	}

	side := models.PositionShort
	if final.buy.GreaterThan(final.sell) {
		side = models.PositionLong
	}

	// The average at the flip is only meaningful once that side has fills;
	// a flat round trip that opened on the other side reads the final step.
	var realized decimal.Decimal
	if side == models.PositionLong {
		flip := lastIndex(steps, func(s replayStep) bool { return s.buy.LessThan(s.sell) })
		if steps[flip].buy.IsZero() {
			flip = last
		}
		realized = final.avgShort.Sub(steps[flip].avgLong).Mul(final.sell)
	} else {
		flip := lastIndex(steps, func(s replayStep) bool { return s.sell.LessThan(s.buy) })
		if steps[flip].sell.IsZero() {
			flip = last
		}
		realized = steps[flip].avgShort.Sub(final.avgLong).Mul(final.buy)
	}

	liveDec := decimal.NewFromFloat(live)
	unrealized := liveDec.Sub(final.avgLong).Mul(final.buy).
		Add(final.avgShort.Sub(liveDec).Mul(final.sell)).
		Sub(realized)

	return models.PositionRow{
		InstrumentName: head.InstrumentName(),
		Currency:       head.Currency,
		TradeType:      head.TradeType(),
		Expiry:         head.Instrument.Expiry,
		Direction:      head.Direction,
		Side:           side,
		Trades:         len(fills),
		LastTrade:      head.Datetime,
		BuyAmount:      final.buy.InexactFloat64(),
		SellAmount:     final.sell.InexactFloat64(),
		AvgLongPrice:   final.avgLong.InexactFloat64(),
		AvgShortPrice:  final.avgShort.InexactFloat64(),
		LivePrice:      live,
		RealizedPL:     realized.InexactFloat64(),
		UnrealizedPL:   unrealized.InexactFloat64(),
	}, nil
}

// ReplayPrice returns the price a fill contributes to the average-cost
// replay. Option premiums are quoted in the underlying and are converted
// to USD at the fill's index price.
func ReplayPrice(t models.NormalizedTrade) decimal.Decimal {
	price := decimal.NewFromFloat(t.Price)
	if t.Instrument.IsOption() {
		return price.Mul(decimal.NewFromFloat(t.IndexPrice))
	}
	return price
}

// LivePrice returns the USD mark of an instrument: the snapshot price for
// futures, the snapshot price times the currency index otherwise.
func LivePrice(inst models.Instrument, currency string, snap *pricing.Snapshot) (float64, error) {
	price, ok := snap.InstrumentPrice(inst.Name)
	if !ok {
		return 0, apperrors.NewMissingPriceError("instrument", inst.Name)
	}
	if inst.IsFuture() {
		return price, nil
	}
	ccy, ok := snap.CurrencyPrice(currency)
	if !ok {
		return 0, apperrors.NewMissingPriceError("currency", currency)
	}
	return price * ccy, nil
}

func average(notional, amount decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return notional.Div(amount)
}

// lastIndex returns the last index whose step matches, or the final index
// when none does.
func lastIndex(steps []replayStep, match func(replayStep) bool) int {
	for i := len(steps) - 1; i >= 0; i-- {
		if match(steps[i]) {
			return i
		}
	}
	return len(steps) - 1
}
