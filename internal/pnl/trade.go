package pnl

import (
	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/models"
	"deribit-pnl/internal/pricing"
)

// TradePnL marks a single fill to the snapshot.
//
// Options: (mark × index − price × fill index) × amount.
// Futures: (mark − price) × amount.
// The result is negated for sells. Fees are the commission converted at
// the fill's index price.
func TradePnL(t models.NormalizedTrade, snap *pricing.Snapshot) (models.TradePnL, error) {
	mark, ok := snap.InstrumentPrice(t.InstrumentName())
	if !ok {
		return models.TradePnL{}, apperrors.NewMissingPriceError("instrument", t.InstrumentName())
	}

	var usd float64
	switch t.TradeType() {
	case models.TradeTypeOption:
		index, ok := snap.CurrencyPrice(t.Currency)
		if !ok {
			return models.TradePnL{}, apperrors.NewMissingPriceError("currency", t.Currency)
		}
		usd = (mark*index - t.Price*t.IndexPrice) * t.Amount
	case models.TradeTypeFuture:
		usd = (mark - t.Price) * t.Amount
	default:
		return models.TradePnL{}, apperrors.NewUnsupportedTradeTypeError(t.InstrumentName(), string(t.TradeType()), "trade pnl")
	}
	usd *= t.Direction.Sign()

	fees := t.Commission * t.IndexPrice

	return models.TradePnL{
		RecordID:            t.RecordID,
		InstrumentName:      t.InstrumentName(),
		Currency:            t.Currency,
		TradeType:           t.TradeType(),
		Direction:           t.Direction,
		Datetime:            t.Datetime,
		Price:               t.Price,
		Amount:              t.Amount,
		USDPnL:              usd,
		USDPnLIncludingFees: usd - fees,
		USDFees:             fees,
	}, nil
}
