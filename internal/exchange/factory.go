// Package exchange provides exchange drivers and the pools that dispense them
package exchange

import (
	"fmt"
	"strings"

	"flashgate/internal/core"
	"flashgate/internal/exchange/exmo"
	"flashgate/internal/exchange/mock"
)

// NewDriver creates a driver for the given exchange id. Credentials may be
// zero for a public-only driver.
func NewDriver(exchangeID string, creds core.Credentials, logger core.ILogger) (core.IDriver, error) {
	switch strings.ToLower(exchangeID) {
	case "exmo":
		return exmo.New(creds, logger), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeID)
	}
}

// NewPrivateDrivers builds one authenticated driver per credential set.
// Single-account deployments pass one entry.
func NewPrivateDrivers(exchangeID string, accounts []core.Credentials, logger core.ILogger) ([]core.IDriver, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("exchange %s: no credentials configured", exchangeID)
	}
	drivers := make([]core.IDriver, 0, len(accounts))
	for i, creds := range accounts {
		d, err := NewDriver(exchangeID, creds, logger)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		drivers = append(drivers, d)
	}
	return drivers, nil
}
