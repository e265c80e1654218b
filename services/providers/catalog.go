package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services"
	"github.com/upb/agent-safe-grid/utils"
)

// catalogFile is the on-disk provider catalog layout
type catalogFile struct {
	Providers []models.LLMProviderConfig `yaml:"providers"`
}

// LoadCatalog reads a provider catalog file
func LoadCatalog(path string) ([]models.LLMProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML. ${VAR} references are expanded from
// the environment before parsing so keys never live in the file.
// Disabled providers are dropped.
func ParseCatalog(data []byte) ([]models.LLMProviderConfig, error) {
	var file catalogFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, services.NewConfigurationError("invalid provider catalog", err)
	}

	seen := make(map[string]struct{}, len(file.Providers))
	enabled := make([]models.LLMProviderConfig, 0, len(file.Providers))
	for _, p := range file.Providers {
		if err := utils.ValidateStruct(p); err != nil {
			return nil, services.NewConfigurationError(fmt.Sprintf("invalid provider %q", p.ID), err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, services.NewConfigurationError(fmt.Sprintf("duplicate provider id %q", p.ID), nil)
		}
		seen[p.ID] = struct{}{}

		if !p.Enabled {
			continue
		}
		enabled = append(enabled, p)
	}
	return enabled, nil
}

// NeedsSimulation reports whether a provider has no usable credentials.
// Ollama runs locally and needs no key.
func NeedsSimulation(cfg *models.LLMProviderConfig) bool {
	switch cfg.Provider {
	case models.ProviderOllama:
		return false
	case models.ProviderCustom:
		return cfg.BaseURL == ""
	default:
		return cfg.APIKey == ""
	}
}
