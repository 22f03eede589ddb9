package types

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CommissionTier is one band of a tiered commission schedule. A tier has
// either UpTo (notional ceiling, inclusive) or Above (notional floor,
// exclusive) set, never both.
type CommissionTier struct {
	UpTo  optional.Option[float64] `yaml:"up_to" json:"up_to"`
	Above optional.Option[float64] `yaml:"above" json:"above"`
	Fee   float64                  `yaml:"fee" json:"fee" validate:"gte=0"`
}

// UnmarshalYAML maps plain numbers into the optional fields.
func (t *CommissionTier) UnmarshalYAML(value *yaml.Node) error {
	type tier struct {
		UpTo  *float64 `yaml:"up_to"`
		Above *float64 `yaml:"above"`
		Fee   float64  `yaml:"fee"`
	}

	var raw tier
	if err := value.Decode(&raw); err != nil {
		return err
	}

	t.Fee = raw.Fee
	t.UpTo = optional.None[float64]()
	t.Above = optional.None[float64]()

	if raw.UpTo != nil {
		t.UpTo = optional.Some(*raw.UpTo)
	}

	if raw.Above != nil {
		t.Above = optional.Some(*raw.Above)
	}

	return nil
}

// BacktestConfig is the engine's execution-cost and capital configuration.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital for the backtest,minimum=0" validate:"gt=0"`
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate" jsonschema:"title=Commission Rate,description=Commission as a fraction of traded notional" validate:"gte=0"`
	// TieredCommission overrides CommissionRate when non-empty; bands are
	// looked up by traded notional (fixed-fee broker model).
	TieredCommission  []CommissionTier `yaml:"tiered_commission,omitempty" json:"tiered_commission,omitempty" jsonschema:"title=Tiered Commission,description=Ordered commission bands looked up by notional"`
	SlippageRate      float64          `yaml:"slippage_rate" json:"slippage_rate" jsonschema:"title=Slippage Rate,description=Slippage as a fraction of price" validate:"gte=0"`
	RiskFreeRate      float64          `yaml:"risk_free_rate" json:"risk_free_rate" jsonschema:"title=Risk Free Rate,description=Annual risk-free rate used by Sharpe and Sortino"`
	LotSize           int              `yaml:"lot_size" json:"lot_size" jsonschema:"title=Lot Size,description=Minimum tradable quantity increment,minimum=1" validate:"gte=1"`
	MarginRequirement float64          `yaml:"margin_requirement" json:"margin_requirement" jsonschema:"title=Margin Requirement,description=Fraction of short notional held as margin" validate:"gte=0,lte=1"`
}

// DefaultConfig returns a BacktestConfig with conventional defaults.
func DefaultConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:    100000,
		CommissionRate:    0,
		TieredCommission:  nil,
		SlippageRate:      0,
		RiskFreeRate:      0,
		LotSize:           1,
		MarginRequirement: 0.5,
	}
}

// LoadConfig parses a BacktestConfig from YAML, filling defaults for
// absent fields and validating the result.
func LoadConfig(content []byte) (BacktestConfig, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate validates the config struct.
func (c *BacktestConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid backtest config", err)
	}

	return nil
}

// GenerateSchema generates a JSON schema for the BacktestConfig.
func (c *BacktestConfig) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.HasPrefix(t.String(), "optional.Option[") {
				return &jsonschema.Schema{
					Type: "number",
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "utss-backtest-config"
	schema.Description = "Configuration schema for the UTSS backtest engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates a JSON schema string for the BacktestConfig.
func (c *BacktestConfig) GenerateSchemaJSON() (string, error) {
	schema := c.GenerateSchema()

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
