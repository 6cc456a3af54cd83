package instrument

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/models"
)

func TestClassify_Perpetual(t *testing.T) {
	for _, name := range []string{"BTC-PERP", "BTC-PERPETUAL", "ETH-PERPETUAL"} {
		inst, err := Classify(name)
		require.NoError(t, err, name)
		assert.Equal(t, models.TradeTypeFuture, inst.Type)
		assert.True(t, inst.Expiry.IsPerpetual())
		assert.Equal(t, "PERP", inst.Expiry.String())
		assert.Nil(t, inst.Option)
	}
}

func TestClassify_Option(t *testing.T) {
	inst, err := Classify("BTC-25AUG23-30000-C")
	require.NoError(t, err)

	assert.Equal(t, models.TradeTypeOption, inst.Type)
	date, ok := inst.Expiry.Date()
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 8, 25, 0, 0, 0, 0, time.UTC), date)
	require.NotNil(t, inst.Option)
	assert.Equal(t, int64(30000), inst.Option.Strike)
	assert.Equal(t, models.OptionCall, inst.Option.Right)

	put, err := Classify("ETH-5SEP23-1600-P")
	require.NoError(t, err)
	assert.Equal(t, models.OptionPut, put.Option.Right)
	date, _ = put.Expiry.Date()
	assert.Equal(t, time.Date(2023, 9, 5, 0, 0, 0, 0, time.UTC), date)
}

func TestClassify_DatedFuture(t *testing.T) {
	inst, err := Classify("BTC-29DEC23")
	require.NoError(t, err)

	assert.Equal(t, models.TradeTypeFuture, inst.Type)
	assert.Nil(t, inst.Option)
	date, ok := inst.Expiry.Date()
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), date)
}

func TestClassify_Spot(t *testing.T) {
	inst, err := Classify("BTC")
	require.NoError(t, err)
	assert.Equal(t, models.TradeTypeSpot, inst.Type)
	assert.True(t, inst.Expiry.IsNone())
	assert.Nil(t, inst.Option)
}

func TestClassify_Errors(t *testing.T) {
	cases := []string{
		"",
		"BTC-25AUG23-30000",     // 3 segments
		"BTC-25AUG23-30000-C-X", // 5 segments
		"BTC-NOTADATE",
		"BTC-32AUG23-30000-C",
		"BTC-25AUG23-abc-C",
		"BTC-25AUG23-30000-X",
	}
	for _, name := range cases {
		_, err := Classify(name)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, apperrors.ErrClassification, name)

		var ce *apperrors.ClassificationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, name, ce.Instrument)
	}
}

func TestSettlementIndex(t *testing.T) {
	assert.Equal(t, "btc_usd", SettlementIndex("BTC-25AUG23-30000-C"))
	assert.Equal(t, "eth_usd", SettlementIndex("ETH-29DEC23"))
	assert.Equal(t, "BTC", Underlying("BTC"))
}

// Property: option fields are present exactly when the instrument is an option.
func TestProperty_OptionFieldsPresentIffOption(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	months := []string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

	properties.Property("option spec set iff type is option", prop.ForAll(
		func(underlying string, day, month, year int, strike int64, call bool, segments int) bool {
			date := fmt.Sprintf("%d%s%02d", day, months[month], year)
			var name string
			switch segments {
			case 1:
				name = underlying
			case 2:
				name = underlying + "-" + date
			default:
				right := "P"
				if call {
					right = "C"
				}
				name = fmt.Sprintf("%s-%s-%d-%s", underlying, date, strike, right)
			}

			inst, err := Classify(name)
			if err != nil {
				t.Logf("unexpected error for %s: %v", name, err)
				return false
			}
			if (inst.Option != nil) != (inst.Type == models.TradeTypeOption) {
				t.Logf("invariant broken for %s: %+v", name, inst)
				return false
			}
			if inst.Option != nil && inst.Option.Strike != strike {
				return false
			}
			return true
		},
		gen.OneConstOf("BTC", "ETH", "SOL"),
		gen.IntRange(1, 28),
		gen.IntRange(0, 11),
		gen.IntRange(20, 30),
		gen.Int64Range(1, 200000),
		gen.Bool(),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
