package config

import "fmt"

// CatalogConfig is the model catalog file (catalog.yaml).
type CatalogConfig struct {
	Models []ModelEntry `yaml:"models"`
}

// ModelEntry describes one routable model. Disabled entries are loaded but
// never selected, so operators can park a model without deleting its pricing.
type ModelEntry struct {
	Name              string  `yaml:"name"`
	Provider          string  `yaml:"provider"`
	CostPerKTokensIn  float64 `yaml:"cost_per_k_tokens_in"`
	CostPerKTokensOut float64 `yaml:"cost_per_k_tokens_out"`
	AvgLatencyMs      int     `yaml:"avg_latency_ms"`
	QualityScore      float64 `yaml:"quality_score"`
	ContextWindow     int     `yaml:"context_window"`
	MaxOutputTokens   int     `yaml:"max_output_tokens"`
	Disabled          bool    `yaml:"disabled,omitempty"`
}

// Validate rejects incomplete catalog entries at load time.
func (c *CatalogConfig) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("catalog has no models")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("catalog model %d: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("catalog model %q: duplicate name", m.Name)
		}
		seen[m.Name] = true
		if m.Provider == "" {
			return fmt.Errorf("catalog model %q: provider is required", m.Name)
		}
		if m.CostPerKTokensIn < 0 || m.CostPerKTokensOut < 0 {
			return fmt.Errorf("catalog model %q: costs must be non-negative", m.Name)
		}
		if m.QualityScore < 0 || m.QualityScore > 5 {
			return fmt.Errorf("catalog model %q: quality_score must be in [0,5], got %v", m.Name, m.QualityScore)
		}
		if m.AvgLatencyMs <= 0 {
			return fmt.Errorf("catalog model %q: avg_latency_ms must be positive", m.Name)
		}
	}
	return nil
}
