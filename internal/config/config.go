package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/stepcal/internal/hw/gpio"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 64 * 1024

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "configs/default.yaml"

// MotorConfig describes the four-coil stepper wiring.
type MotorConfig struct {
	Pins                []int  `yaml:"pins"`                  // coil pins A, B, C, D (BCM)
	StepDelayMs         int    `yaml:"step_delay_ms"`         // settle time after each half-step
	NominalStepsPerRev  uint32 `yaml:"nominal_steps_per_rev"` // used for run before calibration
	MaxCalibrationSteps uint32 `yaml:"max_calibration_steps"` // safety bound for calib
}

// SensorConfig describes the optical interrupter.
type SensorConfig struct {
	Pin    int   `yaml:"pin"`
	PullUp *bool `yaml:"pull_up,omitempty"` // default true

	// Simulated disk used with the mock GPIO backend.
	SimPeriod uint64 `yaml:"sim_period"` // half-steps per revolution of the fake disk
	SimWidth  uint64 `yaml:"sim_width"`  // half-steps the slot stays blocked
}

// ConsoleConfig selects where commands are read from.
// An empty Device means stdin/stdout.
type ConsoleConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel  int    `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	GPIOBackend string `yaml:"gpio_backend"` // rpio, periph or mock
	WebPort     int    `yaml:"web_port"`     // 0 = web surface disabled
}

// Config aggregates all application configuration.
type Config struct {
	Motor    MotorConfig    `yaml:"motor"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Console  ConsoleConfig  `yaml:"console"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the configuration of the reference wiring.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return pkgerrors.Wrapf(err, "resolve config path %s", path)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "stat config file")
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML data, fills in defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Motor.Pins) == 0 {
		c.Motor.Pins = []int{2, 3, 6, 13}
	}
	if c.Motor.StepDelayMs <= 0 {
		c.Motor.StepDelayMs = 3
	}
	if c.Motor.NominalStepsPerRev == 0 {
		c.Motor.NominalStepsPerRev = 4096
	}
	if c.Motor.MaxCalibrationSteps == 0 {
		c.Motor.MaxCalibrationSteps = 20480
	}

	if c.Sensor.Pin == 0 {
		c.Sensor.Pin = 17
	}
	if c.Sensor.PullUp == nil {
		on := true
		c.Sensor.PullUp = &on
	}
	if c.Sensor.SimPeriod == 0 {
		c.Sensor.SimPeriod = uint64(c.Motor.NominalStepsPerRev)
	}
	if c.Sensor.SimWidth == 0 {
		c.Sensor.SimWidth = 64
	}

	if c.Console.Baud <= 0 {
		c.Console.Baud = 115200
	}

	if c.Defaults.GPIOBackend == "" {
		c.Defaults.GPIOBackend = gpio.BackendRPi
	}
}

// MaxHeaderGPIO is the highest BCM number routed to the 40-pin header.
const MaxHeaderGPIO = 27

// Validate reports configuration values the hardware cannot work with.
func (c *Config) Validate() error {
	if len(c.Motor.Pins) != 4 {
		return fmt.Errorf("motor.pins must list 4 coil pins, got %d", len(c.Motor.Pins))
	}
	seen := make(map[int]bool, 5)
	for _, p := range append(append([]int{}, c.Motor.Pins...), c.Sensor.Pin) {
		if p < 0 {
			return fmt.Errorf("pin numbers must be >= 0, got %d", p)
		}
		if seen[p] {
			return fmt.Errorf("pin %d is assigned twice", p)
		}
		seen[p] = true
		if c.Defaults.GPIOBackend != gpio.BackendMock && p > MaxHeaderGPIO {
			return fmt.Errorf("pin %d is not on the Raspberry Pi header (GPIO 0-%d)", p, MaxHeaderGPIO)
		}
	}
	if c.Motor.MaxCalibrationSteps < c.Motor.NominalStepsPerRev {
		return fmt.Errorf("motor.max_calibration_steps (%d) must be >= nominal_steps_per_rev (%d)",
			c.Motor.MaxCalibrationSteps, c.Motor.NominalStepsPerRev)
	}
	if c.Sensor.SimWidth >= c.Sensor.SimPeriod {
		return fmt.Errorf("sensor.sim_width (%d) must be < sim_period (%d)", c.Sensor.SimWidth, c.Sensor.SimPeriod)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	switch c.Defaults.GPIOBackend {
	case gpio.BackendRPi, gpio.BackendPeriph, gpio.BackendMock:
	default:
		return fmt.Errorf("unknown defaults.gpio_backend %q", c.Defaults.GPIOBackend)
	}
	if c.Defaults.WebPort < 0 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("defaults.web_port out of range: %d", c.Defaults.WebPort)
	}
	return nil
}

// CoilPins returns the motor pins in coil order.
func (c *Config) CoilPins() [4]int {
	var pins [4]int
	copy(pins[:], c.Motor.Pins)
	return pins
}

// StepDelay returns the settle time after each half-step.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Motor.StepDelayMs) * time.Millisecond
}

// SensorPullUp reports whether the sensor input uses the internal pull-up.
func (c *Config) SensorPullUp() bool {
	return c.Sensor.PullUp == nil || *c.Sensor.PullUp
}
