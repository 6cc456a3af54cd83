package models

import "time"

// TransactionRecord is one row of the exchange transaction log.
// Only trade rows take part in PnL; other types (deposit, settlement,
// delivery, transfer) are stored as reported.
type TransactionRecord struct {
	ID             int64   `json:"id"`
	Currency       string  `json:"currency"`
	UserSeq        int64   `json:"user_seq"`
	Type           string  `json:"type"`
	TradeID        string  `json:"trade_id"`
	OrderID        string  `json:"order_id"`
	InstrumentName string  `json:"instrument_name"`
	Side           string  `json:"side"`
	Timestamp      int64   `json:"timestamp"`
	Price          float64 `json:"price"`
	PriceCurrency  string  `json:"price_currency"`
	Amount         float64 `json:"amount"`
	Position       float64 `json:"position"`
	MarkPrice      float64 `json:"mark_price"`
	IndexPrice     float64 `json:"index_price"`
	Commission     float64 `json:"commission"`
	Cashflow       float64 `json:"cashflow"`
	Change         float64 `json:"change"`
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	Info           string  `json:"info"`
}

// NormalizedTrade is a fill derived from a trade TransactionRecord.
type NormalizedTrade struct {
	RecordID   int64
	Instrument Instrument
	Direction  Direction
	Timestamp  int64
	Datetime   time.Time
	Price      float64
	Amount     float64
	Currency   string
	IndexPrice float64
	Commission float64
}

// InstrumentName returns the traded instrument's name.
func (t NormalizedTrade) InstrumentName() string {
	return t.Instrument.Name
}

// TradeType returns the traded instrument's type.
func (t NormalizedTrade) TradeType() TradeType {
	return t.Instrument.Type
}

// TradePnL is the mark-to-market result of a single fill.
type TradePnL struct {
	RecordID            int64     `json:"record_id"`
	InstrumentName      string    `json:"instrument_name"`
	Currency            string    `json:"currency"`
	TradeType           TradeType `json:"trade_type"`
	Direction           Direction `json:"direction"`
	Datetime            time.Time `json:"datetime"`
	Price               float64   `json:"price"`
	Amount              float64   `json:"amount"`
	USDPnL              float64   `json:"usd_pnl"`
	USDPnLIncludingFees float64   `json:"usd_pnl_including_fees"`
	USDFees             float64   `json:"usd_fees"`
}

// PositionRow is the final replay state of one instrument.
type PositionRow struct {
	InstrumentName string       `json:"instrument_name"`
	Currency       string       `json:"currency"`
	TradeType      TradeType    `json:"trade_type"`
	Expiry         Expiry       `json:"expiry"`
	Direction      Direction    `json:"direction"`
	Side           PositionSide `json:"side"`
	Trades         int          `json:"trades"`
	LastTrade      time.Time    `json:"last_trade"`
	BuyAmount      float64      `json:"buy_amount"`
	SellAmount     float64      `json:"sell_amount"`
	AvgLongPrice   float64      `json:"avg_long_price"`
	AvgShortPrice  float64      `json:"avg_short_price"`
	LivePrice      float64      `json:"live_price"`
	RealizedPL     float64      `json:"realized_pl"`
	UnrealizedPL   float64      `json:"unrealized_pl"`
}

// NetAmount returns buys minus sells.
func (p PositionRow) NetAmount() float64 {
	return p.BuyAmount - p.SellAmount
}

// CurrencySummary totals trade PnL for one currency.
type CurrencySummary struct {
	Currency            string  `json:"currency"`
	Trades              int     `json:"trades"`
	USDPnL              float64 `json:"usd_pnl"`
	USDPnLIncludingFees float64 `json:"usd_pnl_including_fees"`
	USDFees             float64 `json:"usd_fees"`
}

// InstrumentSummary totals trade PnL for one instrument.
type InstrumentSummary struct {
	InstrumentName string  `json:"instrument_name"`
	Currency       string  `json:"currency"`
	Trades         int     `json:"trades"`
	USDPnL         float64 `json:"usd_pnl"`
}
