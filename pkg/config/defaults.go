package config

// defaultGlobalConfig returns the built-in defaults merged under any
// user-supplied models.yaml.
func defaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		Chairman:   "anthropic/claude-opus-4",
		TitleModel: "google/gemini-2.5-flash",
		Deliberation: DeliberationConfig{
			Rounds:    1,
			MaxRounds: 5,
			Temperatures: Temperatures{
				Stage1: 0.5,
				Stage2: 0.3,
				Stage3: 0.7,
			},
		},
		ResponseConfig: ResponseConfig{
			ResponseStyle: ResponseStyleStandard,
		},
		TimeoutConfig: TimeoutConfig{
			DefaultTimeoutSeconds: 120,
			StreamingChunkTimeout: 120,
			ConnectionTimeout:     30,
			MaxRetries:            1,
			RetryBackoffFactor:    2,
		},
	}
}
