package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Game:        DefaultGameConfig(),
		LLM:         DefaultLLMConfig(),
		Persistence: DefaultPersistenceConfig(),
		Autopilot:   DefaultAutopilotConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultGameConfig returns the default gameplay settings.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		TokenLimit:      8000,
		CombatEnabled:   true,
		MaxCombatRounds: 50,
	}
}

// DefaultLLMConfig returns the default provider routing.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "openai",
		DMModel:    "gpt-4o",
		PCModel:    "gpt-4o-mini",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
	}
}

// DefaultPersistenceConfig returns the default checkpoint backend.
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Backend: "file",
		Root:    "campaigns",
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "questflow",
		},
	}
}

// DefaultAutopilotConfig returns the default round-driver settings.
func DefaultAutopilotConfig() AutopilotConfig {
	return AutopilotConfig{
		MaxRounds:      0,
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
	}
}

// DefaultLogConfig returns the default logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
