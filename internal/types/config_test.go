package types

import (
	"encoding/json"
	"testing"

	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.InDelta(t, 100000, config.InitialCapital, 1e-9)
	assert.Zero(t, config.CommissionRate)
	assert.Zero(t, config.SlippageRate)
	assert.Equal(t, 1, config.LotSize)
	assert.InDelta(t, 0.5, config.MarginRequirement, 1e-9)
	assert.Nil(t, config.TieredCommission)
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	config, err := LoadConfig([]byte(`
initial_capital: 50000
slippage_rate: 0.001
`))
	require.NoError(t, err)

	assert.InDelta(t, 50000, config.InitialCapital, 1e-9)
	assert.InDelta(t, 0.001, config.SlippageRate, 1e-9)

	// Absent fields keep their defaults.
	assert.Equal(t, 1, config.LotSize)
	assert.InDelta(t, 0.5, config.MarginRequirement, 1e-9)
}

func TestLoadConfigTieredCommission(t *testing.T) {
	config, err := LoadConfig([]byte(`
initial_capital: 10000
tiered_commission:
  - up_to: 1000
    fee: 1
  - up_to: 10000
    fee: 5
  - above: 10000
    fee: 20
`))
	require.NoError(t, err)

	require.Len(t, config.TieredCommission, 3)

	first := config.TieredCommission[0]
	require.True(t, first.UpTo.IsSome())
	assert.InDelta(t, 1000, first.UpTo.Unwrap(), 1e-9)
	assert.True(t, first.Above.IsNone())
	assert.InDelta(t, 1, first.Fee, 1e-9)

	last := config.TieredCommission[2]
	assert.True(t, last.UpTo.IsNone())
	require.True(t, last.Above.IsSome())
	assert.InDelta(t, 10000, last.Above.Unwrap(), 1e-9)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero capital", "initial_capital: 0"},
		{"negative commission", "commission_rate: -0.01"},
		{"zero lot size", "lot_size: 0"},
		{"margin above one", "margin_requirement: 1.5"},
		{"malformed yaml", "initial_capital: ["},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig([]byte(tc.content))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
		})
	}
}

func TestGenerateSchemaJSON(t *testing.T) {
	config := DefaultConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(schemaJSON), &schema))

	assert.Equal(t, "utss-backtest-config", schema["title"])

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, properties, "initial_capital")
	assert.Contains(t, properties, "tiered_commission")
	assert.Contains(t, properties, "margin_requirement")
}
