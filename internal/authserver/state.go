package authserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quantfell/pairbot/internal/config"
)

// ConfigState holds the trading parameter set the server hands out.
// Admin updates merge into a copy of the current set and bump the
// monotonic version; readers always see a complete snapshot.
type ConfigState struct {
	mu     sync.Mutex
	params config.TradingParams
}

// NewConfigState seeds the state with an initial parameter set at
// version 1.
func NewConfigState(initial config.TradingParams) *ConfigState {
	if initial.ConfigVersion < 1 {
		initial.ConfigVersion = 1
	}
	initial.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return &ConfigState{params: initial}
}

// Current returns a copy of the active parameter set.
func (c *ConfigState) Current() config.TradingParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Version returns the active config version.
func (c *ConfigState) Version() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.ConfigVersion
}

// Merge overlays the raw JSON patch on a copy of the current set. Fields
// absent from the patch keep their values; version and last_updated are
// always server-assigned. The patch is rejected wholesale when the merged
// result fails validation.
func (c *ConfigState) Merge(patch []byte) (config.TradingParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := c.params
	if err := json.Unmarshal(patch, &merged); err != nil {
		return config.TradingParams{}, fmt.Errorf("authserver: merge config: %w", err)
	}

	merged.ConfigVersion = c.params.ConfigVersion + 1
	merged.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	if err := merged.Validate(); err != nil {
		return config.TradingParams{}, fmt.Errorf("authserver: merge config: %w", err)
	}

	c.params = merged
	return merged, nil
}
