package policy

import (
	"fmt"
	"time"
)

// Config holds the eligibility thresholds.
type Config struct {
	FreezeThreshold  int
	MintThreshold    int
	MaturationWindow time.Duration
}

// DefaultConfig returns the production defaults: freeze at trust 2, mint at
// trust 3, seven day maturation.
func DefaultConfig() Config {
	return Config{
		FreezeThreshold:  2,
		MintThreshold:    3,
		MaturationWindow: 7 * 24 * time.Hour,
	}
}

// Validate enforces that minting is strictly harder than freezing.
func (c Config) Validate() error {
	if c.FreezeThreshold < 0 {
		return fmt.Errorf("freeze trust threshold must not be negative (got %d)", c.FreezeThreshold)
	}
	if c.MintThreshold <= c.FreezeThreshold {
		return fmt.Errorf("mint trust threshold (%d) must be greater than freeze threshold (%d)", c.MintThreshold, c.FreezeThreshold)
	}
	if c.MaturationWindow <= 0 {
		return fmt.Errorf("maturation window must be positive (got %s)", c.MaturationWindow)
	}
	return nil
}
