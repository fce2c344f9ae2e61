// Package config loads the global model configuration and per-council
// configuration from YAML, merging built-in defaults with user overrides.
package config

import "time"

// Persona is a fixed advisor identity within a council.
type Persona struct {
	ID            string   `yaml:"id"`
	DisplayName   string   `yaml:"display_name"`
	Role          string   `yaml:"role"`
	PersonaPrompt string   `yaml:"persona_prompt"`
	Tags          []string `yaml:"tags,omitempty"`
}

// RubricCriterion is one scored dimension of a council's evaluation rubric.
type RubricCriterion struct {
	Name        string  `yaml:"name"`
	Weight      float64 `yaml:"weight"` // (0,1]
	Description string  `yaml:"description,omitempty"`
}

// RoutingPolicy bounds panel size: 1 <= min <= default <= max <= |personas|.
type RoutingPolicy struct {
	MinAdvisors     int `yaml:"min_advisors"`
	MaxAdvisors     int `yaml:"max_advisors"`
	DefaultAdvisors int `yaml:"default_advisors"`
}

// Council is a named configuration: advisor personas, a rubric, a routing
// policy, and the backend ids available to this council.
type Council struct {
	Name              string            `yaml:"name"`
	Description       string            `yaml:"description"`
	Personas          []Persona         `yaml:"personas"`
	Rubric            []RubricCriterion `yaml:"rubric,omitempty"`
	Routing           RoutingPolicy     `yaml:"routing"`
	AvailableBackends []string          `yaml:"available_backends"`
}

// PersonaByID looks up a persona by id within this council.
func (c *Council) PersonaByID(id string) (Persona, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// ModelEntry is one entry in the global models list.
type ModelEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ResponseStyle is one of "standard" or "concise".
type ResponseStyle string

const (
	ResponseStyleStandard ResponseStyle = "standard"
	ResponseStyleConcise  ResponseStyle = "concise"
)

// ResponseConfig controls Stage-1 prompt framing.
type ResponseConfig struct {
	ResponseStyle ResponseStyle `yaml:"response_style"`
}

// TimeoutConfig is the timeout_config block of the global model config.
type TimeoutConfig struct {
	DefaultTimeoutSeconds   int     `yaml:"default_timeout"`
	StreamingChunkTimeout   int     `yaml:"streaming_chunk_timeout"`
	ConnectionTimeout       int     `yaml:"connection_timeout"`
	MaxRetries              int     `yaml:"max_retries"`
	RetryBackoffFactor      float64 `yaml:"retry_backoff_factor"`
}

func (t TimeoutConfig) Default() time.Duration {
	return time.Duration(t.DefaultTimeoutSeconds) * time.Second
}

func (t TimeoutConfig) Connection() time.Duration {
	return time.Duration(t.ConnectionTimeout) * time.Second
}

// Temperatures holds the default sampling temperature per stage.
type Temperatures struct {
	Stage1 float32 `yaml:"stage1"`
	Stage2 float32 `yaml:"stage2"`
	Stage3 float32 `yaml:"stage3"`
}

// DeliberationConfig controls round counts. Rounds/MaxRounds exist for
// forward compatibility with a multi-round contract; pkg/council/stage2
// always executes exactly one round regardless of their value.
type DeliberationConfig struct {
	Rounds       int          `yaml:"rounds"`
	MaxRounds    int          `yaml:"max_rounds"`
	Temperatures Temperatures `yaml:"temperatures"`
}

// GlobalConfig is the global model configuration: the model roster, the
// designated chairman and title-generation backends, deliberation/response/
// timeout settings.
type GlobalConfig struct {
	Models         []ModelEntry       `yaml:"models"`
	Chairman       string             `yaml:"chairman"`
	TitleModel     string             `yaml:"title_model"`
	Deliberation   DeliberationConfig `yaml:"deliberation"`
	ResponseConfig ResponseConfig     `yaml:"response_config"`
	TimeoutConfig  TimeoutConfig      `yaml:"timeout_config"`
}
