package engine

import (
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
)

// Settings are the retrieval knobs that can change while running.
type Settings struct {
	K         int
	RRFK      int
	Fusion    fusion.Policy
	Expansion expansion.Mode
	Variants  int
	Parallel  bool
}

// DefaultSettings returns k=5, rrf_k=60, RRF fusion, decomposition with five
// variants, and parallel fan-out.
func DefaultSettings() Settings {
	return Settings{
		K:         retrieval.DefaultK,
		RRFK:      fusion.DefaultRRFK,
		Fusion:    fusion.PolicyRRF,
		Expansion: expansion.ModeDecompose,
		Variants:  expansion.DefaultVariants,
		Parallel:  true,
	}
}

// SettingsFrom maps the retrieval config section onto Settings.
func SettingsFrom(cfg config.RetrievalConfig) (Settings, error) {
	policy, err := fusion.ParsePolicy(cfg.Fusion)
	if err != nil {
		return Settings{}, err
	}
	mode, err := expansion.ParseMode(cfg.Expansion)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		K:         cfg.K,
		RRFK:      cfg.RRFK,
		Fusion:    policy,
		Expansion: mode,
		Variants:  cfg.Variants,
		Parallel:  cfg.Parallel,
	}
	return s.withDefaults(), nil
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.K <= 0 {
		s.K = d.K
	}
	if s.RRFK <= 0 {
		s.RRFK = d.RRFK
	}
	if s.Fusion == "" {
		s.Fusion = d.Fusion
	}
	if s.Expansion == "" {
		s.Expansion = d.Expansion
	}
	if s.Variants <= 0 {
		s.Variants = d.Variants
	}
	return s
}
