package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnv layers APPLYFORGE_* process environment overrides on top of
// the file values. Unset variables leave the config untouched.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("APPLYFORGE_ADDR", cfg.Server.Addr)

	cfg.Model.Provider = getEnv("APPLYFORGE_MODEL_PROVIDER", cfg.Model.Provider)
	cfg.Model.Name = getEnv("APPLYFORGE_MODEL_NAME", cfg.Model.Name)
	cfg.Model.APIKey = getEnv("APPLYFORGE_MODEL_API_KEY", cfg.Model.APIKey)

	cfg.Generate.MaxAttempts = getEnvInt("APPLYFORGE_MAX_ATTEMPTS", cfg.Generate.MaxAttempts)
	cfg.Generate.TargetPages = getEnvInt("APPLYFORGE_TARGET_PAGES", cfg.Generate.TargetPages)
	cfg.Generate.MaxModelCalls = getEnvInt("APPLYFORGE_MAX_MODEL_CALLS", cfg.Generate.MaxModelCalls)
	cfg.Generate.ScratchRoot = getEnv("APPLYFORGE_SCRATCH_ROOT", cfg.Generate.ScratchRoot)

	cfg.Store.Backend = getEnv("APPLYFORGE_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = getEnv("APPLYFORGE_STORE_PATH", cfg.Store.Path)

	cfg.Content.Backend = getEnv("APPLYFORGE_CONTENT_BACKEND", cfg.Content.Backend)
	cfg.Content.Root = getEnv("APPLYFORGE_CONTENT_ROOT", cfg.Content.Root)

	cfg.Compiler.Bin = getEnv("APPLYFORGE_COMPILER_BIN", cfg.Compiler.Bin)

	cfg.Metrics.Enabled = getEnvBool("APPLYFORGE_METRICS_ENABLED", cfg.Metrics.Enabled)

	cfg.Log.Level = getEnv("APPLYFORGE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("APPLYFORGE_LOG_FORMAT", cfg.Log.Format)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
