package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edifylabs/edify-backend/internal/estimator"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/utils"
)

type Config struct {
	Port         string
	SweepEnabled bool
	CacheEnabled bool
	Estimator    estimator.Config
}

// LoadConfig reads runtime settings from the environment. CONFIG_PATH may
// point at a YAML file overriding the estimator defaults; a missing file is
// fatal, an unset variable is not.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Port:         utils.GetEnv("PORT", "8080", log),
		SweepEnabled: utils.GetEnvAsBool("COMPLIANCE_SWEEP_ENABLED", true, log),
		CacheEnabled: utils.GetEnvAsBool("CACHE_ENABLED", true, log),
		Estimator:    estimator.DefaultConfig(),
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	var doc struct {
		Estimator estimator.Config `yaml:"estimator"`
	}
	doc.Estimator = cfg.Estimator
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Estimator = doc.Estimator
	log.Info("Loaded estimator config overrides", "path", path)
	return cfg, nil
}
