package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
)

const ProviderLocal = "local"

// CreateProvider builds the chat-completions client for the configured
// inference server. An API key is optional; local servers usually run
// without one.
func CreateProvider(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	pc := cfg.Provider

	opts := ClientOptions{
		Name:    ProviderLocal,
		APIBase: pc.APIBase,
		Model:   pc.Model,
		Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
	}
	if key := strings.TrimSpace(pc.APIKey); key != "" {
		opts.Auth = NewBearerAuth(key, "provider.api_key")
	}
	return NewClient(opts)
}
