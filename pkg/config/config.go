package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VENDMOTOR_MQTT_BROKER.
const EnvPrefix = "VENDMOTOR_"

// Config represents the controller configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial" envPrefix:"SERIAL_"`
	MQTT        MQTTConfig        `yaml:"mqtt" envPrefix:"MQTT_"`
	Hardware    HardwareConfig    `yaml:"hardware" envPrefix:"HARDWARE_"`
	Queue       QueueConfig       `yaml:"queue"`
	Motor       MotorConfig       `yaml:"motor"`
	Home        HomeConfig        `yaml:"home"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Transfer    TransferConfig    `yaml:"transfer"`
	Mock        MockConfig        `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port" env:"PORT"`
	BaudRate int    `yaml:"baud_rate" env:"BAUD_RATE"`
}

// MQTTConfig contains message broker configuration.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Broker          string        `yaml:"broker" env:"BROKER"` // e.g. tcp://192.168.1.10:1884
	ClientID        string        `yaml:"client_id" env:"CLIENT_ID"`
	Username        string        `yaml:"username" env:"USERNAME"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	IncomingTopic   string        `yaml:"incoming_topic" env:"INCOMING_TOPIC"`
	OutgoingTopic   string        `yaml:"outgoing_topic" env:"OUTGOING_TOPIC"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RetryInterval   time.Duration `yaml:"retry_interval"`   // Delay between reconnect attempts
	MonitorInterval time.Duration `yaml:"monitor_interval"` // Liveness check period
}

// HardwareConfig describes the I2C peripherals.
type HardwareConfig struct {
	I2CBus          string  `yaml:"i2c_bus" env:"I2C_BUS"` // Empty selects the first bus
	ExpanderAddress uint16  `yaml:"expander_address"`
	SensorAddress   uint16  `yaml:"sensor_address"`
	ShuntMilliohm   float32 `yaml:"shunt_milliohm"`
	MaxCurrentMA    float32 `yaml:"max_current_ma"`
}

// QueueConfig contains command queue parameters.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	// EnqueueTimeout bounds how long ingress waits for a free slot.
	// Negative waits forever, zero tries once.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"` // Dispatcher idle poll period
}

// MotorConfig contains the single revolution homing parameters.
type MotorConfig struct {
	SupplyVoltage   float32       `yaml:"supply_voltage"`   // V
	MotorResistance float32       `yaml:"motor_resistance"` // Ohm
	HomeMarginMA    float32       `yaml:"home_margin_ma"`   // Subtracted from supply/resistance
	OutlierDeltaMA  float32       `yaml:"outlier_delta_ma"`
	MaxOutliers     int           `yaml:"max_outliers"`
	MinSamples      int           `yaml:"min_samples"`  // Samples before home may be detected
	HomeSamples     int           `yaml:"home_samples"` // Consecutive samples above threshold
	PollInterval    time.Duration `yaml:"poll_interval"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	Timeout         time.Duration `yaml:"timeout"`
	SwitchDelay     time.Duration `yaml:"switch_delay"` // Between relay lines on power off
	LogCurrent      bool          `yaml:"log_current"`
}

// HomeDeltaMA returns the current rise that marks the home position.
func (m MotorConfig) HomeDeltaMA() float32 {
	if m.MotorResistance == 0 {
		return 0
	}
	return m.SupplyVoltage/m.MotorResistance*1000 - m.HomeMarginMA
}

// HomeConfig contains the relaxed return-to-home parameters.
type HomeConfig struct {
	MinSamples  int           `yaml:"min_samples"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DiagnosticsConfig contains short circuit test parameters.
type DiagnosticsConfig struct {
	BaselineSamples  int           `yaml:"baseline_samples"`
	BaselineInterval time.Duration `yaml:"baseline_interval"`
	IdleMarginMA     float32       `yaml:"idle_margin_ma"`
	TestSamples      int           `yaml:"test_samples"`
	ShortThreshold   int           `yaml:"short_threshold"` // Samples over margin that flag a short
	SampleInterval   time.Duration `yaml:"sample_interval"`
	CellGap          time.Duration `yaml:"cell_gap"`
}

// TransferConfig contains matrix transfer parameters.
type TransferConfig struct {
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	AbortMarker    *bool         `yaml:"abort_marker,omitempty"` // nil means enabled
}

// SendAbortMarker reports whether an abandoned transfer is announced to the receiver.
func (t TransferConfig) SendAbortMarker() bool {
	return t.AbortMarker == nil || *t.AbortMarker
}

// MockConfig contains simulated motor bank configuration.
type MockConfig struct {
	IdleMA            float32  `yaml:"idle_ma"`            // Quiescent current with all relays open
	RunningMA         float32  `yaml:"running_ma"`         // Current of a turning motor
	HomeSpikeMA       float32  `yaml:"home_spike_ma"`      // Rise at the home position
	RevolutionSamples int      `yaml:"revolution_samples"` // Samples from energize to home
	SpikeSamples      int      `yaml:"spike_samples"`      // Samples the rise lasts
	NoiseMA           float32  `yaml:"noise_ma"`
	ShortMA           float32  `yaml:"short_ma"` // Extra current through a shorted cell in test mode
	Shorted           []string `yaml:"shorted"`  // Cells like "A1"
	Stalled           []string `yaml:"stalled"`  // Cells that never reach home
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			ClientID:        "vendmotor",
			IncomingTopic:   "topic/hostToClient",
			OutgoingTopic:   "topic/clientToHost",
			ConnectTimeout:  5 * time.Second,
			RetryInterval:   5 * time.Second,
			MonitorInterval: 100 * time.Millisecond,
		},
		Hardware: HardwareConfig{
			ExpanderAddress: 0x20,
			SensorAddress:   0x40,
			ShuntMilliohm:   100,
			MaxCurrentMA:    1000,
		},
		Queue: QueueConfig{
			Capacity:       4,
			EnqueueTimeout: 500 * time.Millisecond,
			PollInterval:   5 * time.Millisecond,
		},
		Motor: MotorConfig{
			SupplyVoltage:   24,
			MotorResistance: 500,
			HomeMarginMA:    10, // 24V / 500 Ohm = 48mA, threshold 38mA
			OutlierDeltaMA:  50,
			MaxOutliers:     20,
			MinSamples:      250,
			HomeSamples:     5,
			PollInterval:    5 * time.Millisecond,
			SettleDelay:     250 * time.Millisecond,
			Timeout:         4 * time.Second,
			SwitchDelay:     10 * time.Millisecond,
		},
		Home: HomeConfig{
			MinSamples:  2,
			SettleDelay: 100 * time.Millisecond,
			Timeout:     3 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			BaselineSamples:  50,
			BaselineInterval: 20 * time.Millisecond,
			IdleMarginMA:     1.0,
			TestSamples:      20,
			ShortThreshold:   15,
			SampleInterval:   5 * time.Millisecond,
			CellGap:          5 * time.Millisecond,
		},
		Transfer: TransferConfig{
			ConfirmTimeout: 2 * time.Second,
			MaxRetries:     5,
		},
		Mock: MockConfig{
			IdleMA:            2,
			RunningMA:         60,
			HomeSpikeMA:       48,
			RevolutionSamples: 300,
			SpikeSamples:      12,
			NoiseMA:           0.5,
			ShortMA:           30,
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. If the file doesn't exist or fields are missing, it uses
// default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// ApplyEnv overrides fields from VENDMOTOR_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports settings the controller cannot run with.
func (c *Config) Validate() error {
	if c.Queue.Capacity != 4 {
		return fmt.Errorf("queue capacity must be 4, got %d", c.Queue.Capacity)
	}
	if c.Motor.HomeDeltaMA() <= 0 {
		return fmt.Errorf("home threshold must be positive, got %.1fmA", c.Motor.HomeDeltaMA())
	}
	if c.Diagnostics.ShortThreshold > c.Diagnostics.TestSamples {
		return fmt.Errorf("short threshold %d exceeds test samples %d", c.Diagnostics.ShortThreshold, c.Diagnostics.TestSamples)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt enabled but broker is not set")
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.IncomingTopic == "" {
		c.MQTT.IncomingTopic = def.MQTT.IncomingTopic
	}
	if c.MQTT.OutgoingTopic == "" {
		c.MQTT.OutgoingTopic = def.MQTT.OutgoingTopic
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = def.MQTT.ConnectTimeout
	}
	if c.MQTT.RetryInterval == 0 {
		c.MQTT.RetryInterval = def.MQTT.RetryInterval
	}
	if c.MQTT.MonitorInterval == 0 {
		c.MQTT.MonitorInterval = def.MQTT.MonitorInterval
	}

	if c.Hardware.ExpanderAddress == 0 {
		c.Hardware.ExpanderAddress = def.Hardware.ExpanderAddress
	}
	if c.Hardware.SensorAddress == 0 {
		c.Hardware.SensorAddress = def.Hardware.SensorAddress
	}
	if c.Hardware.ShuntMilliohm == 0 {
		c.Hardware.ShuntMilliohm = def.Hardware.ShuntMilliohm
	}
	if c.Hardware.MaxCurrentMA == 0 {
		c.Hardware.MaxCurrentMA = def.Hardware.MaxCurrentMA
	}

	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = def.Queue.Capacity
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = def.Queue.PollInterval
	}

	if c.Motor.SupplyVoltage == 0 {
		c.Motor.SupplyVoltage = def.Motor.SupplyVoltage
	}
	if c.Motor.MotorResistance == 0 {
		c.Motor.MotorResistance = def.Motor.MotorResistance
	}
	if c.Motor.OutlierDeltaMA == 0 {
		c.Motor.OutlierDeltaMA = def.Motor.OutlierDeltaMA
	}
	if c.Motor.MaxOutliers == 0 {
		c.Motor.MaxOutliers = def.Motor.MaxOutliers
	}
	if c.Motor.MinSamples == 0 {
		c.Motor.MinSamples = def.Motor.MinSamples
	}
	if c.Motor.HomeSamples == 0 {
		c.Motor.HomeSamples = def.Motor.HomeSamples
	}
	if c.Motor.PollInterval == 0 {
		c.Motor.PollInterval = def.Motor.PollInterval
	}
	if c.Motor.Timeout == 0 {
		c.Motor.Timeout = def.Motor.Timeout
	}

	if c.Home.MinSamples == 0 {
		c.Home.MinSamples = def.Home.MinSamples
	}
	if c.Home.Timeout == 0 {
		c.Home.Timeout = def.Home.Timeout
	}

	if c.Diagnostics.BaselineSamples == 0 {
		c.Diagnostics.BaselineSamples = def.Diagnostics.BaselineSamples
	}
	if c.Diagnostics.TestSamples == 0 {
		c.Diagnostics.TestSamples = def.Diagnostics.TestSamples
	}
	if c.Diagnostics.ShortThreshold == 0 {
		c.Diagnostics.ShortThreshold = def.Diagnostics.ShortThreshold
	}
	if c.Diagnostics.IdleMarginMA == 0 {
		c.Diagnostics.IdleMarginMA = def.Diagnostics.IdleMarginMA
	}

	if c.Transfer.ConfirmTimeout == 0 {
		c.Transfer.ConfirmTimeout = def.Transfer.ConfirmTimeout
	}
	if c.Transfer.MaxRetries == 0 {
		c.Transfer.MaxRetries = def.Transfer.MaxRetries
	}

	if c.Mock.RevolutionSamples == 0 {
		c.Mock.RevolutionSamples = def.Mock.RevolutionSamples
	}
	if c.Mock.SpikeSamples == 0 {
		c.Mock.SpikeSamples = def.Mock.SpikeSamples
	}
}
