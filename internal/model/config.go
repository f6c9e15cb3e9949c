package model

import "fmt"

// CorrectionFactors holds the per-{solar,rain,temperature} weather
// adjustment weights used by the weather model. The same shape is
// used for both the global and the per-circuit local factors.
type CorrectionFactors struct {
	Solar       float64 `yaml:"solar"`
	Rain        float64 `yaml:"rain"`
	Temperature float64 `yaml:"temperature"`
}

// StandardConditions are the reference weather values irrigation volume is
// adjusted against.
type StandardConditions struct {
	SolarTotal         float64 `yaml:"solar_total"` // kWh/m^2/day
	TemperatureCelsius float64 `yaml:"temperature_celsius"`
	RainfallMM         float64 `yaml:"rainfall_mm"`
}

// IrrigationLimits bounds the weather-adjusted volume.
type IrrigationLimits struct {
	MinPercent       float64 `yaml:"min_percent"`
	MaxPercent       float64 `yaml:"max_percent"`
	MainValveMaxFlow float64 `yaml:"main_valve_max_flow"` // L/h, safety cap for manual runs
}

// AutomationSettings controls the daily auto cycle.
type AutomationSettings struct {
	AutoEnabled         bool        `yaml:"auto_enabled"`
	ScheduledHour       int         `yaml:"scheduled_hour"`   // 0-23
	ScheduledMinute     int         `yaml:"scheduled_minute"` // 0-59
	Environment         Environment `yaml:"environment"`
	UseWeatherSimulator bool        `yaml:"use_weather_simulator"`
	MaxFlowMonitoring   bool        `yaml:"max_flow_monitoring"` // declared non-functional, see DESIGN.md
}

// LoggingSettings is the ambient logging config. Level "debug" enables
// debug output; any other value (including empty) suppresses it.
type LoggingSettings struct {
	Level string `yaml:"level"`
}

// WeatherEndpoints configures the (out-of-scope) live weather API client.
// Only the shape the provider needs to decide freshness/fallback is in
// core scope; the wire protocol itself is not.
type WeatherEndpoints struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TTLSeconds     int    `yaml:"ttl_seconds"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GlobalConfig is the node-wide configuration loaded once at bootstrap
// . It is held immutably by the controller core for the process
// lifetime.
type GlobalConfig struct {
	Standard   StandardConditions `yaml:"standard_conditions"`
	Factors    CorrectionFactors  `yaml:"correction_factors"`
	Limits     IrrigationLimits   `yaml:"irrigation_limits"`
	Automation AutomationSettings `yaml:"automation"`
	Logging    LoggingSettings    `yaml:"logging"`
	Weather    WeatherEndpoints   `yaml:"weather"`
}

// Validate enforces the global-config invariants.
func (g GlobalConfig) Validate() error {
	if g.Limits.MinPercent > 100 {
		return fmt.Errorf("%w: min_percent %.2f exceeds 100", ErrConfig, g.Limits.MinPercent)
	}
	if g.Limits.MaxPercent < 100 {
		return fmt.Errorf("%w: max_percent %.2f below 100", ErrConfig, g.Limits.MaxPercent)
	}
	if g.Automation.ScheduledHour < 0 || g.Automation.ScheduledHour > 23 {
		return fmt.Errorf("%w: scheduled_hour %d out of range", ErrConfig, g.Automation.ScheduledHour)
	}
	if g.Automation.ScheduledMinute < 0 || g.Automation.ScheduledMinute > 59 {
		return fmt.Errorf("%w: scheduled_minute %d out of range", ErrConfig, g.Automation.ScheduledMinute)
	}
	return nil
}

// CircuitConfig is one circuit's immutable per-run configuration.
type CircuitConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	RelayPin int    `yaml:"relay_pin"`
	Enabled  bool   `yaml:"enabled"`

	EvenAreaMode bool `yaml:"even_area_mode"`

	// Even-area mode fields.
	TargetMM float64 `yaml:"target_mm"`
	AreaM2   float64 `yaml:"area_m2"`

	// Dripper mode field.
	LitersPerMinDripper float64 `yaml:"liters_per_minimum_dripper"`

	IntervalDays int `yaml:"interval_days"`

	// Drippers maps a dripper's flow rate in L/h to how many of that
	// dripper the circuit has installed.
	Drippers map[int]int `yaml:"drippers"`

	Factors CorrectionFactors `yaml:"correction_factors"`
}

// TotalFlowLPH is the sum of dripper_flow * count across the inventory.
func (c CircuitConfig) TotalFlowLPH() float64 {
	var total float64
	for flow, count := range c.Drippers {
		total += float64(flow) * float64(count)
	}
	return total
}

// MinDripperFlow returns the smallest flow rate in the inventory. Only
// meaningful in dripper mode.
func (c CircuitConfig) MinDripperFlow() int {
	min := 0
	for flow := range c.Drippers {
		if min == 0 || flow < min {
			min = flow
		}
	}
	return min
}

// BaseVolumeLiters is the volume applied under standard (reference)
// weather, before any weather adjustment. Even-area mode: target_mm * area_m2.
// Dripper mode: liters_per_minimum_dripper * (total_flow / min_dripper_flow).
func (c CircuitConfig) BaseVolumeLiters() float64 {
	if c.EvenAreaMode {
		return c.TargetMM * c.AreaM2
	}
	minFlow := c.MinDripperFlow()
	if minFlow == 0 {
		return 0
	}
	return c.LitersPerMinDripper * (c.TotalFlowLPH() / float64(minFlow))
}

// Validate enforces the circuit-config invariants.
func (c CircuitConfig) Validate() error {
	if len(c.Drippers) == 0 {
		return fmt.Errorf("%w: circuit %d has an empty dripper inventory", ErrConfig, c.ID)
	}
	for flow, count := range c.Drippers {
		if flow <= 0 {
			return fmt.Errorf("%w: circuit %d has a non-positive dripper flow rate %d", ErrConfig, c.ID, flow)
		}
		if count <= 0 {
			return fmt.Errorf("%w: circuit %d has a non-positive dripper count for flow %d", ErrConfig, c.ID, flow)
		}
	}
	if c.TotalFlowLPH() <= 0 {
		return fmt.Errorf("%w: circuit %d has zero effective flow", ErrConfig, c.ID)
	}

	if c.EvenAreaMode {
		if c.TargetMM <= 0 || c.AreaM2 <= 0 {
			return fmt.Errorf("%w: circuit %d is even-area mode but target_mm/area_m2 are not both set", ErrConfig, c.ID)
		}
		if c.LitersPerMinDripper != 0 {
			return fmt.Errorf("%w: circuit %d is even-area mode but liters_per_minimum_dripper is also set", ErrConfig, c.ID)
		}
	} else {
		if c.LitersPerMinDripper <= 0 {
			return fmt.Errorf("%w: circuit %d is dripper mode but liters_per_minimum_dripper is not set", ErrConfig, c.ID)
		}
		if c.TargetMM != 0 || c.AreaM2 != 0 {
			return fmt.Errorf("%w: circuit %d is dripper mode but target_mm/area_m2 is also set", ErrConfig, c.ID)
		}
	}
	if c.IntervalDays <= 0 {
		return fmt.Errorf("%w: circuit %d has a non-positive interval_days", ErrConfig, c.ID)
	}
	return nil
}
