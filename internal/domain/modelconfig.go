package domain

import "time"

// ModelConfigKind separates the two provider configuration families.
type ModelConfigKind string

const (
	ModelConfigEmbedding  ModelConfigKind = "embedding"
	ModelConfigExtraction ModelConfigKind = "extraction"
)

// ModelConfig is a persisted provider profile. Exactly one config per kind is
// active at a time; activating one deactivates its siblings and hot-swaps the
// live provider client. Credentials are never stored — APIKeyEnv names the
// environment variable that holds the key.
type ModelConfig struct {
	ID              string          `json:"config_id"`
	Kind            ModelConfigKind `json:"kind"`
	Name            string          `json:"name"`
	Provider        string          `json:"provider"` // openai | gemini | mock
	Model           string          `json:"model"`
	Dimension       int             `json:"dimension,omitempty"` // embedding kind only
	APIKeyEnv       string          `json:"api_key_env,omitempty"`
	BaseURL         string          `json:"base_url,omitempty"`
	Active          bool            `json:"active"`
	DeleteProtected bool            `json:"delete_protected"`
	ChangeProtected bool            `json:"change_protected"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
