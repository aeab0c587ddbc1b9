package firmware

import (
	"context"

	"github.com/FidelGB/ipsw-downloader/internal/telemetry"
)

// InstrumentedChecker wraps a VersionChecker with telemetry.
type InstrumentedChecker struct {
	checker    VersionChecker
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedChecker creates a new instrumented version checker.
func NewInstrumentedChecker(checker VersionChecker, tel *telemetry.Telemetry, clientType string) *InstrumentedChecker {
	return &InstrumentedChecker{
		checker:    checker,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Latest resolves the latest firmware with telemetry.
func (c *InstrumentedChecker) Latest(ctx context.Context, identifier string) (*Descriptor, error) {
	var result *Descriptor

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "latest_firmware", func(ctx context.Context) error {
		var err error

		result, err = c.checker.Latest(ctx, identifier)

		return err
	})

	if err != nil {
		c.telemetry.RecordVersionCheck("error")

		return nil, err
	}

	c.telemetry.RecordVersionCheck("success")

	return result, nil
}
