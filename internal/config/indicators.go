package config

import (
	"fmt"
	"time"

	"ironcondor/internal/indicators"
)

// Location parses the configured market zone into a *time.Location.
func (c MarketConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Zone)
	if err != nil {
		return nil, fmt.Errorf("config: market.zone %q: %w", c.Zone, err)
	}
	return loc, nil
}

// ToEngineConfigs converts the configured instruments into the
// indicators.InstrumentConfig values Engine.Track expects.
func (c IndicatorsConfig) ToEngineConfigs() []indicators.InstrumentConfig {
	out := make([]indicators.InstrumentConfig, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		defs := make([]indicators.Definition, 0, len(inst.Indicators))
		for _, d := range inst.Indicators {
			defs = append(defs, indicators.Definition{
				Type:   indicators.Type(d.Type),
				Params: d.Params,
			})
		}
		out = append(out, indicators.InstrumentConfig{
			InstrumentToken: inst.InstrumentToken,
			TradingSymbol:   inst.TradingSymbol,
			BarDuration:     inst.BarDuration,
			MaxBars:         inst.MaxBars,
			Indicators:      defs,
		})
	}
	return out
}
