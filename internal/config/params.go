package config

import (
	"fmt"
	"sync/atomic"
)

// TradingParams is the hot-swappable parameter set delivered by the
// authorization server. The whole snapshot is replaced on every accepted
// update; individual fields are never mutated in place.
type TradingParams struct {
	ConfigVersion     int                   `json:"config_version"`
	LastUpdated       string                `json:"last_updated,omitempty"`
	HeartbeatInterval float64               `json:"heartbeat_interval"` // seconds
	EntryGapThreshold float64               `json:"entry_gap_threshold"`
	TargetProfit      float64               `json:"target_profit"`
	Leverage          float64               `json:"leverage"`
	PositionNotional  float64               `json:"position_notional"`
	Venues            map[string]VenueParams `json:"venues,omitempty"`
}

// VenueParams carries per-venue overrides delivered with the snapshot.
type VenueParams struct {
	Symbol  string `json:"symbol,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// Validate rejects snapshots the coordinator could not trade on.
func (p *TradingParams) Validate() error {
	if p.HeartbeatInterval <= 0 {
		return fmt.Errorf("params: heartbeat_interval must be > 0")
	}
	if p.EntryGapThreshold <= 0 {
		return fmt.Errorf("params: entry_gap_threshold must be > 0")
	}
	if p.Leverage <= 0 {
		return fmt.Errorf("params: leverage must be > 0")
	}
	if p.PositionNotional <= 0 {
		return fmt.Errorf("params: position_notional must be > 0")
	}
	return nil
}

// ParamStore holds the live TradingParams snapshot. Readers get a
// consistent pointer; writers swap the whole snapshot atomically.
type ParamStore struct {
	current atomic.Pointer[TradingParams]
}

// NewParamStore returns a store seeded with the given snapshot.
func NewParamStore(initial *TradingParams) *ParamStore {
	s := &ParamStore{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

// Load returns the current snapshot, or nil before the first Store.
// Callers must not mutate the returned value.
func (s *ParamStore) Load() *TradingParams {
	return s.current.Load()
}

// Store swaps in a new snapshot.
func (s *ParamStore) Store(p *TradingParams) {
	s.current.Store(p)
}

// Version returns the current config version, or -1 before the first Store.
func (s *ParamStore) Version() int {
	p := s.current.Load()
	if p == nil {
		return -1
	}
	return p.ConfigVersion
}
