package connector

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"idcard-ocr/internal/config"
)

// Definition describes a configured connector.
type Definition struct {
	Name     string        `json:"name"`
	Provider Provider      `json:"provider"`
	Endpoint string        `json:"endpoint,omitempty"`
	APIKey   string        `json:"api_key,omitempty"`
	Active   bool          `json:"active"`
	Default  bool          `json:"default"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Note     string        `json:"note,omitempty"`

	// Gemini
	Project string `json:"project,omitempty"`
	Region  string `json:"region,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Validate checks the fields required by the provider.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("connector name is required")
	}
	switch d.Provider {
	case ProviderLocal:
	case ProviderCustom:
		if d.Endpoint == "" {
			return fmt.Errorf("connector %s: custom provider requires an endpoint", d.Name)
		}
	case ProviderGoogle:
		if d.Project == "" || d.Region == "" {
			return fmt.Errorf("connector %s: google provider requires project and region", d.Name)
		}
	default:
		return fmt.Errorf("connector %s: unknown provider %q", d.Name, d.Provider)
	}
	return nil
}

// DefinitionsFromConfig derives connector definitions from the
// environment configuration: local unless disabled, plus a custom and a
// Gemini connector when their settings are present.
func DefinitionsFromConfig(cfg *config.Config) []Definition {
	var defs []Definition
	if !cfg.LocalDisabled {
		defs = append(defs, Definition{Name: "local", Provider: ProviderLocal, Active: true})
	}
	if cfg.RemoteEndpoint != "" {
		defs = append(defs, Definition{
			Name:     "remote",
			Provider: ProviderCustom,
			Endpoint: cfg.RemoteEndpoint,
			APIKey:   cfg.RemoteAPIKey,
			Timeout:  cfg.RemoteTimeout,
			Active:   true,
		})
	}
	if cfg.VertexProject != "" {
		defs = append(defs, Definition{
			Name:     "gemini",
			Provider: ProviderGoogle,
			Project:  cfg.VertexProject,
			Region:   cfg.VertexRegion,
			Model:    cfg.VertexModel,
			Timeout:  cfg.RemoteTimeout,
			Active:   true,
		})
	}
	return defs
}

// SaveDefinitions writes definitions to a JSON file.
func SaveDefinitions(path string, defs []Definition) error {
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadDefinitions loads definitions from JSON and validates them.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse connector definitions: %w", err)
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}
