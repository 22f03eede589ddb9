package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// Bar is a single OHLCV observation at a fixed timestamp.
// Bars arrive already ordered and are never reordered by the engine.
type Bar struct {
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
	// VWAP is optional; providers that don't supply it leave it None.
	VWAP optional.Option[float64] `yaml:"vwap" json:"vwap" csv:"vwap"`
}

// PriceField selects a price component of a bar.
type PriceField string

const (
	PriceFieldOpen   PriceField = "open"
	PriceFieldHigh   PriceField = "high"
	PriceFieldLow    PriceField = "low"
	PriceFieldClose  PriceField = "close"
	PriceFieldVolume PriceField = "volume"
	PriceFieldVWAP   PriceField = "vwap"
	// Composite fields
	PriceFieldHL2   PriceField = "hl2"
	PriceFieldHLC3  PriceField = "hlc3"
	PriceFieldOHLC4 PriceField = "ohlc4"
)

// Price returns the requested price component of the bar.
// The boolean is false when the field is unavailable (e.g. missing vwap).
func (b Bar) Price(field PriceField) (float64, bool) {
	switch field {
	case PriceFieldOpen:
		return b.Open, true
	case PriceFieldHigh:
		return b.High, true
	case PriceFieldLow:
		return b.Low, true
	case PriceFieldClose, "":
		return b.Close, true
	case PriceFieldVolume:
		return b.Volume, true
	case PriceFieldVWAP:
		if b.VWAP.IsSome() {
			return b.VWAP.Unwrap(), true
		}

		return 0, false
	case PriceFieldHL2:
		return (b.High + b.Low) / 2, true
	case PriceFieldHLC3:
		return (b.High + b.Low + b.Close) / 3, true
	case PriceFieldOHLC4:
		return (b.Open + b.High + b.Low + b.Close) / 4, true
	default:
		return 0, false
	}
}
