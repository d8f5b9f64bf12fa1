package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if c.Processing.BlendStrength < 0 || c.Processing.BlendStrength > 1 {
		return errors.New("processing.blend_strength must be between 0 and 1")
	}
	switch c.Processing.Strategy {
	case StrategyFFmpeg, StrategyPure:
	default:
		return fmt.Errorf("processing.strategy must be %q or %q", StrategyFFmpeg, StrategyPure)
	}
	return nil
}

func (c *Config) validateDetector() error {
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return errors.New("detector.min_confidence must be between 0 and 1")
	}
	switch c.Detector.Model {
	case "hog", "cnn":
	default:
		return fmt.Errorf("detector.model must be %q or %q", "hog", "cnn")
	}
	return nil
}
