package models

import "time"

// ProviderKind is the upstream API family of an LLM provider
type ProviderKind string

const (
	ProviderGoogle    ProviderKind = "google"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderOllama    ProviderKind = "ollama"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderCustom    ProviderKind = "custom"
)

// LLMProviderConfig describes a configured upstream model provider
type LLMProviderConfig struct {
	ID            string       `json:"id" yaml:"id" validate:"required"`
	Name          string       `json:"name" yaml:"name" validate:"required"`
	Provider      ProviderKind `json:"provider" yaml:"provider" validate:"required,oneof=google openai ollama anthropic custom"`
	IsCustom      bool         `json:"isCustom" yaml:"isCustom"`
	Enabled       bool         `json:"enabled" yaml:"enabled"`
	APIKey        string       `json:"apiKey,omitempty" yaml:"apiKey"`
	BaseURL       string       `json:"baseUrl,omitempty" yaml:"baseUrl" validate:"omitempty,url"`
	Endpoint      string       `json:"endpoint,omitempty" yaml:"endpoint"`
	Models        []string     `json:"models" yaml:"models"`
	SelectedModel string       `json:"selectedModel" yaml:"selectedModel"`
	Priority      int          `json:"priority" yaml:"priority"`
	CostPer1k     float64      `json:"costPer1k" yaml:"costPer1k" validate:"gte=0"`
	// Compliance lists the regulatory standards the provider attests to.
	Compliance    []string  `json:"compliance,omitempty" yaml:"compliance"`
	RetentionDays int       `json:"retentionDays,omitempty" yaml:"retentionDays"`
	LastTested    time.Time `json:"lastTested,omitempty" yaml:"-"`
	TestStatus    string    `json:"testStatus,omitempty" yaml:"-"`
}

// Attests reports whether the provider declares compliance with standard
func (p *LLMProviderConfig) Attests(standard string) bool {
	for _, s := range p.Compliance {
		if s == standard {
			return true
		}
	}
	return false
}
