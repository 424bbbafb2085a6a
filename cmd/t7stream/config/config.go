package config

import (
	"t7stream/pkg/calibration"
	"t7stream/pkg/device"
)

// Config is everything a session needs that is derived from the options
// before the device is contacted.
type Config struct {
	SessionID string
	Channels  []device.Channel
	// Gains holds the calibration gain index of each scan list entry.
	Gains  []int
	Stream *device.StreamConfig
	Layout *calibration.Layout
}

// AINs returns the AIN numbers in scan list order.
func (c *Config) AINs() []uint16 {
	ains := make([]uint16, 0, len(c.Channels))
	for _, ch := range c.Channels {
		ains = append(ains, ch.AIN)
	}
	return ains
}
