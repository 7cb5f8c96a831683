package robot

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultConfigFile is where setup stores ports and calibration.
const DefaultConfigFile = "lerobot.json"

// Config holds the robot configuration written by setup.
type Config struct {
	Leader   ArmConfig `json:"leader"`
	Follower ArmConfig `json:"follower"`
}

// ArmConfig holds configuration for a single arm
type ArmConfig struct {
	Port        string      `json:"port"`
	Calibration Calibration `json:"calibration,omitempty"`
}

// IsCalibrated returns true if the arm has calibration data
func (a *ArmConfig) IsCalibrated() bool {
	return len(a.Calibration) > 0
}

// Ready returns an error describing why the arm cannot be driven yet.
func (a *ArmConfig) Ready(role string) error {
	if a.Port == "" {
		return fmt.Errorf("%s arm has no port configured", role)
	}
	if !a.IsCalibrated() {
		return fmt.Errorf("%s arm is not calibrated", role)
	}
	return nil
}

// FollowerPort describes the follower as the bus arm called name, or
// DefaultArm when name is empty.
func (c *Config) FollowerPort(name string) ArmPort {
	if name == "" {
		name = DefaultArm
	}
	return ArmPort{Name: name, Port: c.Follower.Port, Calibration: c.Follower.Calibration}
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
