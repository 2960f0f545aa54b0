package llm

import "time"

// LLMProviderStatus is the lifecycle state of a provider account row.
type LLMProviderStatus string

const (
	LLMProviderStatusActive   LLMProviderStatus = "active"
	LLMProviderStatusDisabled LLMProviderStatus = "disabled"
)

// LLMProvider is a provider account row: one per upstream the fleet holds
// credentials for (openai, azure-openai, anthropic-native, ...). Multiple
// LLMProviderAPIKey rows can hang off one LLMProvider to spread load across
// several keys/base URLs for the same adapter_type.
type LLMProvider struct {
	ID     uint              `json:"id" gorm:"primaryKey"`
	Code   string            `json:"code" gorm:"uniqueIndex;size:64"`
	Name   string            `json:"name" gorm:"size:128"`
	Status LLMProviderStatus `json:"status" gorm:"size:16;default:active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements gorm's Tabler.
func (LLMProvider) TableName() string { return "llm_providers" }

// LLMProviderAPIKey is one credential in a provider's key pool, carrying the
// load-balancing weight/priority and rate-limit/health bookkeeping the admin
// API (HandleListAPIKeys/HandleAPIKeyStats) exposes. The adapter registry does
// not read this table: cmd/gateway builds each factory.AdapterConfig from the
// gateway configuration.
type LLMProviderAPIKey struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	ProviderID uint `json:"provider_id" gorm:"index"`

	APIKey  string `json:"-" gorm:"size:256"`
	BaseURL string `json:"base_url" gorm:"size:256"`
	Label   string `json:"label" gorm:"size:128"`

	Priority int  `json:"priority" gorm:"default:100"`
	Weight   int  `json:"weight" gorm:"default:100"`
	Enabled  bool `json:"enabled" gorm:"default:true"`

	RateLimitRPM int `json:"rate_limit_rpm"`
	RateLimitRPD int `json:"rate_limit_rpd"`
	CurrentRPM   int `json:"current_rpm"`
	CurrentRPD   int `json:"current_rpd"`

	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`

	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	LastError   string     `json:"last_error,omitempty" gorm:"size:512"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements gorm's Tabler.
func (LLMProviderAPIKey) TableName() string { return "llm_provider_api_keys" }

// IsHealthy reports whether the key is enabled and its failure rate
// (FailedRequests / TotalRequests) is below 50%. A key with no requests yet
// is healthy by default.
func (k LLMProviderAPIKey) IsHealthy() bool {
	if !k.Enabled {
		return false
	}
	if k.TotalRequests == 0 {
		return true
	}
	failureRate := float64(k.FailedRequests) / float64(k.TotalRequests)
	return failureRate < 0.5
}

// APIKeyStats is the aggregated view HandleAPIKeyStats returns per key.
type APIKeyStats struct {
	KeyID          uint       `json:"key_id"`
	Label          string     `json:"label"`
	BaseURL        string     `json:"base_url"`
	Enabled        bool       `json:"enabled"`
	IsHealthy      bool       `json:"is_healthy"`
	TotalRequests  int64      `json:"total_requests"`
	FailedRequests int64      `json:"failed_requests"`
	SuccessRate    float64    `json:"success_rate"`
	CurrentRPM     int        `json:"current_rpm"`
	CurrentRPD     int        `json:"current_rpd"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}
