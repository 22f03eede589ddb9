package types

import (
	"gopkg.in/yaml.v3"
)

type SignalType string

const (
	SignalTypePrice       SignalType = "price"
	SignalTypeIndicator   SignalType = "indicator"
	SignalTypeFundamental SignalType = "fundamental"
	SignalTypeCalendar    SignalType = "calendar"
	SignalTypeEvent       SignalType = "event"
	SignalTypePortfolio   SignalType = "portfolio"
	SignalTypeConstant    SignalType = "constant"
	SignalTypeArithmetic  SignalType = "arithmetic"
	SignalTypeExpr        SignalType = "expr"
	SignalTypeExternal    SignalType = "external"
	SignalTypeRef         SignalType = "$ref"
	SignalTypeParam       SignalType = "$param"
)

// Signal is a strategy-tree node producing a numeric per-bar value.
// It is a tagged union: Type selects which subset of fields is meaningful.
type Signal struct {
	Type SignalType `yaml:"type" json:"type"`

	// price / calendar / portfolio
	Field  string `yaml:"field,omitempty" json:"field,omitempty"`
	Offset int    `yaml:"offset,omitempty" json:"offset,omitempty"`
	Symbol string `yaml:"symbol,omitempty" json:"symbol,omitempty"`

	// indicator
	Indicator string         `yaml:"indicator,omitempty" json:"indicator,omitempty"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// fundamental
	Metric string `yaml:"metric,omitempty" json:"metric,omitempty"`

	// event
	Event      string `yaml:"event,omitempty" json:"event,omitempty"`
	DaysBefore int    `yaml:"days_before,omitempty" json:"days_before,omitempty"`
	DaysAfter  int    `yaml:"days_after,omitempty" json:"days_after,omitempty"`

	// constant
	Value float64 `yaml:"value,omitempty" json:"value,omitempty"`

	// arithmetic
	Op       string    `yaml:"op,omitempty" json:"op,omitempty"`
	Operands []*Signal `yaml:"operands,omitempty" json:"operands,omitempty"`

	// expr
	Formula string `yaml:"formula,omitempty" json:"formula,omitempty"`

	// external
	Key     string  `yaml:"key,omitempty" json:"key,omitempty"`
	Default float64 `yaml:"default,omitempty" json:"default,omitempty"`

	// $ref / $param
	Ref   string `yaml:"$ref,omitempty" json:"$ref,omitempty"`
	Param string `yaml:"$param,omitempty" json:"$param,omitempty"`
}

// UnmarshalYAML normalizes shorthand forms: a bare {$ref: ...} or
// {$param: ...} node carries no explicit type.
func (s *Signal) UnmarshalYAML(value *yaml.Node) error {
	type plain Signal

	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}

	*s = Signal(p)

	if s.Type == "" {
		switch {
		case s.Ref != "":
			s.Type = SignalTypeRef
		case s.Param != "":
			s.Type = SignalTypeParam
		default:
			s.Type = SignalTypePrice
		}
	}

	return nil
}

type ConditionType string

const (
	ConditionTypeComparison ConditionType = "comparison"
	ConditionTypeCross      ConditionType = "cross"
	ConditionTypeRange      ConditionType = "range"
	ConditionTypeAnd        ConditionType = "and"
	ConditionTypeOr         ConditionType = "or"
	ConditionTypeNot        ConditionType = "not"
	ConditionTypeTemporal   ConditionType = "temporal"
	ConditionTypeSequence   ConditionType = "sequence"
	ConditionTypeChange     ConditionType = "change"
	ConditionTypeExpr       ConditionType = "expr"
	ConditionTypeAlways     ConditionType = "always"
	ConditionTypeRef        ConditionType = "$ref"
)

type CrossDirection string

const (
	CrossAbove CrossDirection = "above"
	CrossBelow CrossDirection = "below"
)

type TemporalModifier string

const (
	TemporalForBars    TemporalModifier = "for_bars"
	TemporalWithinBars TemporalModifier = "within_bars"
	TemporalSinceBars  TemporalModifier = "since_bars"
	TemporalFirstTime  TemporalModifier = "first_time"
	TemporalNthTime    TemporalModifier = "nth_time"
)

// SequenceStep is one stage of an ordered multi-bar pattern. The step
// matches only after the previous step matched, within WithinBars bars,
// and no earlier than MinBars bars after it.
type SequenceStep struct {
	Condition  *Condition `yaml:"condition" json:"condition"`
	WithinBars int        `yaml:"within_bars,omitempty" json:"within_bars,omitempty"`
	MinBars    int        `yaml:"min_bars,omitempty" json:"min_bars,omitempty"`
}

// Condition is a strategy-tree node producing a boolean per-bar value.
type Condition struct {
	Type ConditionType `yaml:"type" json:"type"`

	// comparison
	Left     *Signal `yaml:"left,omitempty" json:"left,omitempty"`
	Right    *Signal `yaml:"right,omitempty" json:"right,omitempty"`
	Operator string  `yaml:"operator,omitempty" json:"operator,omitempty"`

	// cross / change / range
	Signal    *Signal        `yaml:"signal,omitempty" json:"signal,omitempty"`
	Threshold *Signal        `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Direction CrossDirection `yaml:"direction,omitempty" json:"direction,omitempty"`

	// range
	Min       float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Inclusive bool    `yaml:"inclusive,omitempty" json:"inclusive,omitempty"`

	// and / or
	Conditions []*Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// not / temporal child
	Condition *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`

	// temporal
	Modifier TemporalModifier `yaml:"modifier,omitempty" json:"modifier,omitempty"`
	Bars     int              `yaml:"bars,omitempty" json:"bars,omitempty"`
	N        int              `yaml:"n,omitempty" json:"n,omitempty"`

	// sequence
	Steps      []SequenceStep `yaml:"steps,omitempty" json:"steps,omitempty"`
	ResetOn    *Condition     `yaml:"reset_on,omitempty" json:"reset_on,omitempty"`
	ExpireBars int            `yaml:"expire_bars,omitempty" json:"expire_bars,omitempty"`

	// change: direction of the move plus magnitude gate. When Percent is
	// true the magnitude is (signal[0]-signal[-bars])/signal[-bars]*100.
	MinChange float64 `yaml:"min_change,omitempty" json:"min_change,omitempty"`
	Percent   bool    `yaml:"percent,omitempty" json:"percent,omitempty"`

	// expr
	Formula string `yaml:"formula,omitempty" json:"formula,omitempty"`

	// $ref
	Ref string `yaml:"$ref,omitempty" json:"$ref,omitempty"`
}

// UnmarshalYAML normalizes bare {$ref: ...} condition nodes and defaults.
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	type plain Condition

	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}

	*c = Condition(p)

	if c.Type == "" {
		if c.Ref != "" {
			c.Type = ConditionTypeRef
		} else {
			c.Type = ConditionTypeComparison
		}
	}

	if c.Type == ConditionTypeCross && c.Direction == "" {
		c.Direction = CrossAbove
	}

	return nil
}

type ActionType string

const (
	ActionTypeTrade     ActionType = "trade"
	ActionTypeRebalance ActionType = "rebalance"
	ActionTypeAlert     ActionType = "alert"
	ActionTypeHold      ActionType = "hold"
)

type TradeDirection string

const (
	TradeDirectionBuy   TradeDirection = "buy"
	TradeDirectionSell  TradeDirection = "sell"
	TradeDirectionShort TradeDirection = "short"
	TradeDirectionCover TradeDirection = "cover"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type WeightMethod string

const (
	WeightMethodEqual      WeightMethod = "equal"
	WeightMethodInverseVol WeightMethod = "inverse_vol"
	WeightMethodRiskParity WeightMethod = "risk_parity"
	WeightMethodTargets    WeightMethod = "targets"
)

// DefaultRebalanceThreshold is the minimum absolute weight deviation that
// triggers a rebalancing order. Smaller drifts are left alone to avoid
// churn from rounding-level noise.
const DefaultRebalanceThreshold = 0.05

// Action is what a fired rule does.
type Action struct {
	Type ActionType `yaml:"type" json:"type"`

	// trade
	Direction  TradeDirection `yaml:"direction,omitempty" json:"direction,omitempty"`
	Symbol     string         `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Sizing     *Sizing        `yaml:"sizing,omitempty" json:"sizing,omitempty"`
	OrderType  OrderType      `yaml:"order_type,omitempty" json:"order_type,omitempty"`
	LimitPrice float64        `yaml:"limit_price,omitempty" json:"limit_price,omitempty"`
	TIF        string         `yaml:"tif,omitempty" json:"tif,omitempty"`
	Reason     string         `yaml:"reason,omitempty" json:"reason,omitempty"`

	// rebalance
	Method    WeightMethod       `yaml:"method,omitempty" json:"method,omitempty"`
	Targets   map[string]float64 `yaml:"targets,omitempty" json:"targets,omitempty"`
	Threshold float64            `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// alert
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// UnmarshalYAML applies action defaults.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	type plain Action

	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}

	*a = Action(p)

	if a.Type == "" {
		a.Type = ActionTypeTrade
	}

	if a.Type == ActionTypeTrade {
		if a.Direction == "" {
			a.Direction = TradeDirectionBuy
		}

		if a.OrderType == "" {
			a.OrderType = OrderTypeMarket
		}
	}

	if a.Type == ActionTypeRebalance && a.Threshold == 0 {
		a.Threshold = DefaultRebalanceThreshold
	}

	return nil
}

type SizingType string

const (
	SizingTypeFixedAmount        SizingType = "fixed_amount"
	SizingTypeFixedQuantity      SizingType = "fixed_quantity"
	SizingTypePercentEquity      SizingType = "percent_equity"
	SizingTypePercentCash        SizingType = "percent_cash"
	SizingTypePercentPosition    SizingType = "percent_position"
	SizingTypeRiskBased          SizingType = "risk_based"
	SizingTypeKelly              SizingType = "kelly"
	SizingTypeVolatilityAdjusted SizingType = "volatility_adjusted"
	SizingTypeConditional        SizingType = "conditional"
)

// SizingCase pairs a condition with the sizing to use when it holds.
type SizingCase struct {
	When   *Condition `yaml:"when" json:"when"`
	Sizing *Sizing    `yaml:"sizing" json:"sizing"`
}

// Sizing turns portfolio state into a concrete order quantity.
type Sizing struct {
	Type SizingType `yaml:"type" json:"type"`

	Amount   float64 `yaml:"amount,omitempty" json:"amount,omitempty"`
	Quantity float64 `yaml:"quantity,omitempty" json:"quantity,omitempty"`
	Percent  float64 `yaml:"percent,omitempty" json:"percent,omitempty"`

	// risk_based: stop distance is a signal so it can come from an
	// indicator (ATR), a constant, or anything else the tree can express.
	RiskPercent  float64 `yaml:"risk_percent,omitempty" json:"risk_percent,omitempty"`
	StopDistance *Signal `yaml:"stop_distance,omitempty" json:"stop_distance,omitempty"`

	// kelly
	Fraction float64 `yaml:"fraction,omitempty" json:"fraction,omitempty"`
	Lookback int     `yaml:"lookback,omitempty" json:"lookback,omitempty"`

	// volatility_adjusted
	TargetVol float64 `yaml:"target_vol,omitempty" json:"target_vol,omitempty"`

	// conditional
	Cases   []SizingCase `yaml:"cases,omitempty" json:"cases,omitempty"`
	Default *Sizing      `yaml:"default,omitempty" json:"default,omitempty"`
}

// UnmarshalYAML applies sizing defaults (half-Kelly, 20-bar lookbacks).
func (s *Sizing) UnmarshalYAML(value *yaml.Node) error {
	type plain Sizing

	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}

	*s = Sizing(p)

	if s.Type == "" {
		s.Type = SizingTypePercentEquity
	}

	if s.Type == SizingTypeKelly {
		if s.Fraction == 0 {
			s.Fraction = 0.5
		}

		if s.Lookback == 0 {
			s.Lookback = 20
		}
	}

	if s.Type == SizingTypeVolatilityAdjusted && s.Lookback == 0 {
		s.Lookback = 20
	}

	return nil
}

// Rule is a (Condition, Action) pair with priority. Higher priority rules
// are evaluated first; ties break by declaration order.
type Rule struct {
	Name     string     `yaml:"name" json:"name"`
	When     *Condition `yaml:"when" json:"when"`
	Then     *Action    `yaml:"then" json:"then"`
	Priority int        `yaml:"priority,omitempty" json:"priority,omitempty"`
	Enabled  bool       `yaml:"enabled" json:"enabled"`
	Regime   string     `yaml:"regime,omitempty" json:"regime,omitempty"`
}

// UnmarshalYAML defaults Enabled to true when the key is absent.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	type plain Rule

	p := plain{Enabled: true}
	if err := value.Decode(&p); err != nil {
		return err
	}

	*r = Rule(p)

	return nil
}

// ConstraintExit is a percentage-based protective exit.
type ConstraintExit struct {
	Percent float64 `yaml:"percent" json:"percent"`
}

// Constraints are strategy-level protective exits checked on every bar
// before rule evaluation.
type Constraints struct {
	StopLoss     *ConstraintExit `yaml:"stop_loss,omitempty" json:"stop_loss,omitempty"`
	TakeProfit   *ConstraintExit `yaml:"take_profit,omitempty" json:"take_profit,omitempty"`
	TrailingStop *ConstraintExit `yaml:"trailing_stop,omitempty" json:"trailing_stop,omitempty"`
}

// Parameters holds the strategy's tunable values. Optimizers inject
// different bindings per run; Defaults apply otherwise.
type Parameters struct {
	Defaults map[string]float64 `yaml:"defaults" json:"defaults"`
}

// StrategyInfo is strategy metadata.
type StrategyInfo struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// Strategy is the already-validated declarative strategy tree. The engine
// consumes it as data; schema-level validation happens upstream, while
// link-level validation (refs, params, cycles) happens in the engine's
// linker before any simulation starts.
type Strategy struct {
	Info        StrategyInfo          `yaml:"info" json:"info"`
	Signals     map[string]*Signal    `yaml:"signals,omitempty" json:"signals,omitempty"`
	Conditions  map[string]*Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Parameters  Parameters            `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Rules       []*Rule               `yaml:"rules" json:"rules"`
	Constraints Constraints           `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// LoadStrategy parses a strategy definition from YAML.
func LoadStrategy(content []byte) (*Strategy, error) {
	var s Strategy
	if err := yaml.Unmarshal(content, &s); err != nil {
		return nil, err
	}

	return &s, nil
}
