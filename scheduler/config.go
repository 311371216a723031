package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonparser "github.com/knadh/koanf/parsers/json"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	krawbytes "github.com/knadh/koanf/providers/rawbytes"
	koanf "github.com/knadh/koanf/v2"
)

// TaskConfig is the per-task section of the configuration file, addressed as
// task.<name>.* in the on-disk key/value format.
type TaskConfig struct {
	MinRunTime      time.Duration      `json:"min_run_time"`
	PriorityTable   map[string]float64 `json:"priority_table"`
	GoalTime        string             `json:"goal_time,omitempty"`
	GoalValue       float64            `json:"goal_value,omitempty"`
	ModbusAddress   string             `json:"modbus_address,omitempty"`
	ModbusSlaveID   byte               `json:"modbus_slave_id,omitempty"`
	MQTTBroker      string             `json:"mqtt_broker,omitempty"`
	MQTTTopic       string             `json:"mqtt_topic,omitempty"`
	MinCurrentAmps  float64            `json:"min_current_amps,omitempty"`
	MaxCurrentAmps  float64            `json:"max_current_amps,omitempty"`
	NoPowerDelay    time.Duration      `json:"no_power_delay,omitempty"`
	RequiredMinutes map[string]float64 `json:"required_runtime_minutes_by_temp,omitempty"`

	// Telemetry topics for readings this task needs beyond its actuator
	// (C2 sensor sources, pushed over the same broker as the actuator
	// rather than polled): current indoor air temperature for hvac,
	// current pool water temperature for pool_pump, tank level/temperature
	// for water_heater.
	IndoorTempTopic        string `json:"indoor_temp_topic,omitempty"`
	PoolTemperatureTopic   string `json:"pool_temperature_topic,omitempty"`
	TankAvailableTopic     string `json:"tank_available_topic,omitempty"`
	TankTemperatureTopic   string `json:"tank_temperature_topic,omitempty"`

	// HVAC thermal model calibration curves, keyed by outdoor temperature
	// (string-formatted, same convention as RequiredMinutes) mapping to
	// the curve's value at that temperature. Fitted offline and dropped
	// into config rather than recomputed at startup (thermal.Point).
	PowerByTemp            map[string]float64 `json:"power_kw_by_temp,omitempty"`
	MinutesPerDegreeByTemp map[string]float64 `json:"minutes_per_degree_by_temp,omitempty"`
	TempOffset             float64            `json:"temp_offset,omitempty"`
	MinPause               time.Duration      `json:"min_pause,omitempty"`

	// DriftDegreePerMinute is the home model's 2-D grid, keyed first by
	// indoor temperature (string-formatted) then by outdoor temperature,
	// mapping to the passive drift rate at that (indoor, outdoor) pair.
	DriftDegreePerMinute map[string]map[string]float64 `json:"drift_degree_per_minute_by_temp,omitempty"`
}

// Config is the scheduler's top-level configuration, loaded from a
// key/value file with dotted sections (see LoadConfig) into this typed,
// validated struct.
type Config struct {
	// Scheduler settings (C9)
	TickInterval           time.Duration `json:"tick_interval"`
	WindowSize             int           `json:"window_size"`
	SanitiseGrace          time.Duration `json:"sanitise_grace"`
	IgnorePowerThreshold   map[string]float64 `json:"ignore_power_threshold"`
	DryRun                 bool          `json:"dry_run"`

	// Adapter/transport settings (§5)
	AdapterTimeout  time.Duration `json:"adapter_timeout"`
	WatchdogTimeout time.Duration `json:"watchdog_timeout"`

	// PV geometry & location (C4)
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Tilt       float64 `json:"tilt"`
	Azimuth    float64 `json:"azimuth"`
	Modules    int     `json:"modules"`
	ModuleKW   float64 `json:"module_kw"`
	UserAgent  string  `json:"user_agent"`

	// Task settings (C7)
	Tasks map[string]TaskConfig `json:"task"`

	// Sigenergy plant Modbus (C2 sensor source for production/consumption)
	PlantModbusAddress string `json:"plant_modbus_address"`

	// Persistence (§6)
	PostgresConnString string `json:"postgres_conn_string"`

	// Cost annotation only, never a scheduling input (DESIGN.md #4)
	EntsoeSecurityToken string `json:"entsoe_security_token"`
	EntsoeUrlFormat     string `json:"entsoe_url_format"`
	Location            string `json:"location"`

	// Web/health/metrics server (§6 Control surface)
	HealthCheckPort int `json:"health_check_port"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a configuration with the defaults named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:    60 * time.Second,
		WindowSize:      60,
		SanitiseGrace:   3 * time.Minute,
		AdapterTimeout:  3 * time.Second,
		WatchdogTimeout: 3 * time.Minute,
		IgnorePowerThreshold: map[string]float64{
			"production":  0.05,
			"consumption": 0.05,
		},
		Latitude:  56.9496,
		Longitude: 24.1052,
		Tilt:      30,
		Azimuth:   180,
		Modules:   20,
		ModuleKW:  0.4,
		UserAgent: "home-scheduler/1.0 (ops@example.com)",
		Tasks:     map[string]TaskConfig{},
		LogLevel:  "info",
	}
}

// LoadConfig loads the configuration from a JSON file (nested objects act
// as sections) with an environment-variable overlay
// (HOME_SCHEDULER_<SECTION>_<KEY>), validating the result.
func LoadConfig(filename string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	defaultsJSON, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := k.Load(krawbytes.Provider(defaultsJSON), jsonparser.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default configuration: %w", err)
	}

	if filename != "" {
		if err := k.Load(kfile.Provider(filename), jsonparser.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", filename, err)
		}
	}

	if err := k.Load(kenv.Provider("HOME_SCHEDULER_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "HOME_SCHEDULER_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overlay: %w", err)
	}

	config := &Config{}
	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be greater than 0, got: %s", c.TickInterval)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be greater than 0, got: %d", c.WindowSize)
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter_timeout must be greater than 0, got: %s", c.AdapterTimeout)
	}
	if c.WatchdogTimeout <= 0 {
		return fmt.Errorf("watchdog_timeout must be greater than 0, got: %s", c.WatchdogTimeout)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}
	if c.Modules < 0 {
		return fmt.Errorf("modules must be non-negative, got: %d", c.Modules)
	}
	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be between 0 and 65535, got: %d", c.HealthCheckPort)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}
	for name, threshold := range c.IgnorePowerThreshold {
		if threshold < 0 {
			return fmt.Errorf("ignore_power_threshold.%s must be non-negative, got: %f", name, threshold)
		}
	}
	return nil
}

// String returns the configuration serialised as indented JSON, for logging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// MarshalJSON implements custom JSON marshaling so time.Duration fields
// round-trip as Go duration strings, matching the on-disk key/value format.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		TickInterval    string `json:"tick_interval"`
		SanitiseGrace   string `json:"sanitise_grace"`
		AdapterTimeout  string `json:"adapter_timeout"`
		WatchdogTimeout string `json:"watchdog_timeout"`
	}{
		Alias:           (*Alias)(c),
		TickInterval:    c.TickInterval.String(),
		SanitiseGrace:   c.SanitiseGrace.String(),
		AdapterTimeout:  c.AdapterTimeout.String(),
		WatchdogTimeout: c.WatchdogTimeout.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for the duration fields.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		TickInterval    string `json:"tick_interval"`
		SanitiseGrace   string `json:"sanitise_grace"`
		AdapterTimeout  string `json:"adapter_timeout"`
		WatchdogTimeout string `json:"watchdog_timeout"`
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if aux.TickInterval != "" {
		if c.TickInterval, err = time.ParseDuration(aux.TickInterval); err != nil {
			return fmt.Errorf("invalid tick_interval: %w", err)
		}
	}
	if aux.SanitiseGrace != "" {
		if c.SanitiseGrace, err = time.ParseDuration(aux.SanitiseGrace); err != nil {
			return fmt.Errorf("invalid sanitise_grace: %w", err)
		}
	}
	if aux.AdapterTimeout != "" {
		if c.AdapterTimeout, err = time.ParseDuration(aux.AdapterTimeout); err != nil {
			return fmt.Errorf("invalid adapter_timeout: %w", err)
		}
	}
	if aux.WatchdogTimeout != "" {
		if c.WatchdogTimeout, err = time.ParseDuration(aux.WatchdogTimeout); err != nil {
			return fmt.Errorf("invalid watchdog_timeout: %w", err)
		}
	}
	return nil
}
