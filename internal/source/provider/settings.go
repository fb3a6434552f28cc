package provider

import "github.com/timmy/rostersync/internal/config"

// NewClientFromConfig builds a client from the provider section of the app config.
func NewClientFromConfig(cfg *config.ProviderConfig) (*Client, error) {
	return NewClient(Config{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		PageSize:          cfg.PageSize,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxConcurrent:     cfg.RateLimit.MaxConcurrent,
		Retry: RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Multiplier:  cfg.Retry.Multiplier,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
		},
	})
}
