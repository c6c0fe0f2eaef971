package types

// OptimizeResponse is the result returned to the caller for one request.
type OptimizeResponse struct {
	RequestID     string  `json:"request_id"`
	Response      string  `json:"response"`
	ModelUsed     string  `json:"model_used"`
	TokensInput   int     `json:"tokens_input"`
	TokensOutput  int     `json:"tokens_output"`
	CostUSD       float64 `json:"cost_usd"`
	CostSavedUSD  float64 `json:"cost_saved_usd,omitempty"`
	LatencyMs     int     `json:"latency_ms"`
	CacheHit      bool    `json:"cache_hit"`
	CacheTier     int     `json:"cache_tier,omitempty"`
	RoutingReason string  `json:"routing_reason"`
}
