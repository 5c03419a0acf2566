package config

// BackendConfig contains generation backend configuration.
// Fields are read with the OPENAI_ prefix (OPENAI_API_KEY and so on).
type BackendConfig struct {
	// APIKey authenticates against the generation API. The service starts
	// without it, but every job will fail until it is set.
	APIKey string `env:"API_KEY"`

	// BaseURL overrides the API endpoint for OpenAI-compatible providers.
	BaseURL string `env:"BASE_URL"`

	// PrimaryModel handles drafting, review and refinement.
	// Empty defers to the backend adapter's default.
	PrimaryModel string `env:"PRIMARY_MODEL"`

	// FastModel handles classification and other cheap calls.
	// Empty defers to the backend adapter's default.
	FastModel string `env:"FAST_MODEL"`

	// SearchModel handles web search requests.
	// Empty defers to the backend adapter's default.
	SearchModel string `env:"SEARCH_MODEL"`

	// ImageModel renders slide visuals.
	// Empty defers to the backend adapter's default.
	ImageModel string `env:"IMAGE_MODEL"`
}

// IsConfigured returns true when the backend has credentials to run with.
func (b *BackendConfig) IsConfigured() bool {
	return b.APIKey != ""
}
