package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("bad date")
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"classification", NewClassificationError("BTC-XX", "expiry", cause), ErrClassification},
		{"direction", NewDirectionError(7, "buy"), ErrDirection},
		{"unsupported", NewUnsupportedTradeTypeError("BTC", "spot", "trade pnl"), ErrUnsupportedTradeType},
		{"quote", NewQuoteFetchError("mark", "BTC-PERPETUAL", cause), ErrQuoteFetch},
		{"missing", NewMissingPriceError("currency", "ETH"), ErrMissingPrice},
		{"validation", NewValidationError("pricing.batch_size", 0, "must be at least 1"), ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("run: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.True(t, Is(wrapped, tt.sentinel))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestQuoteFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := Wrapf(NewQuoteFetchError("settlement", "btc_usd", cause), "resolve %s", "BTC")

	assert.ErrorIs(t, err, cause)
	var qe *QuoteFetchError
	assert.True(t, As(err, &qe))
	assert.Equal(t, "settlement", qe.Kind)
	assert.Equal(t, "btc_usd", qe.Key)
	assert.Equal(t, "resolve BTC: quote fetch error [settlement] btc_usd: timeout", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))
	assert.EqualError(t, Wrap(errors.New("x"), "ctx"), "ctx: x")
}
