// Package configurator fetches the gate's runtime configuration blob from
// the configurator service at startup.
package configurator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"flashgate/internal/config"
	"flashgate/internal/core"
	"flashgate/pkg/httpclient"
)

const fetchTimeout = 10 * time.Second

// blob is the configurator's response envelope, reduced to the keys the gate
// consumes. Unknown keys are ignored.
type blob struct {
	Algo string `json:"algo"`
	Data struct {
		AssetsLabels []struct {
			Common string `json:"common"`
		} `json:"assets_labels"`
		Markets []struct {
			CommonSymbol string `json:"common_symbol"`
		} `json:"markets"`
		Configs struct {
			GateConfig config.GateConfig `json:"gate_config"`
		} `json:"configs"`
	} `json:"data"`
}

// Fetch resolves the runtime config for the deployment named by the
// bootstrap. A "file:" source reads the same blob from disk.
func Fetch(ctx context.Context, boot config.ConfiguratorConfig, logger core.ILogger) (*config.Runtime, error) {
	var raw []byte
	var err error

	switch {
	case strings.HasPrefix(boot.Source, "file:"):
		path := strings.TrimPrefix(boot.Source, "file:")
		logger.Info("Loading runtime config from file", "path", path)
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config blob: %w", err)
		}

	default:
		client := httpclient.NewClient(boot.BaseURL, fetchTimeout, nil)
		path := fmt.Sprintf("/%s/%s", boot.Exchange, boot.Instance)
		logger.Info("Fetching runtime config", "base_url", boot.BaseURL, "path", path)
		raw, err = client.Get(ctx, path, map[string]string{"only_new": "false"})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch config blob: %w", err)
		}
	}

	return decode(raw)
}

func decode(raw []byte) (*config.Runtime, error) {
	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to parse config blob: %w", err)
	}

	rt := &config.Runtime{
		Algo: b.Algo,
		Gate: b.Data.Configs.GateConfig,
	}
	for _, label := range b.Data.AssetsLabels {
		if label.Common != "" {
			rt.Assets = append(rt.Assets, label.Common)
		}
	}
	for _, market := range b.Data.Markets {
		if market.CommonSymbol != "" {
			rt.Symbols = append(rt.Symbols, market.CommonSymbol)
		}
	}

	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return rt, nil
}
