package store

import (
	"fmt"
	"strings"
)

// transactionColumns is the column order shared by inserts and selects.
const transactionColumns = `id, currency, user_seq, type, trade_id, order_id, instrument_name, side,
	timestamp, price, price_currency, amount, position, mark_price, index_price,
	commission, cashflow, change, balance, equity, info`

// placeholder renders the n-th (1-based) bind parameter of a SQL dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// buildTransactionQuery renders a SELECT for filter.
func buildTransactionQuery(f TransactionFilter, ph placeholder) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	bind := func(v interface{}) string {
		args = append(args, v)
		return ph(len(args))
	}
	in := func(column string, values []string) {
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = bind(v)
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", column, strings.Join(marks, ", ")))
	}

	if len(f.Currencies) > 0 {
		in("currency", f.Currencies)
	}
	if len(f.Types) > 0 {
		in("type", f.Types)
	}
	if !f.Start.IsZero() {
		where = append(where, "timestamp >= "+bind(f.Start.UnixMilli()))
	}
	if !f.End.IsZero() {
		where = append(where, "timestamp <= "+bind(f.End.UnixMilli()))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(transactionColumns)
	b.WriteString(" FROM transaction_logs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY timestamp ASC, id ASC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + bind(f.Limit))
	}
	return b.String(), args
}
