package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the process configuration, populated from environment variables.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Database struct {
		DSN string `env:"DB_DSN" envDefault:"file:data/tiopt.db?cache=shared&_fk=1"`
	}
	Leadfield struct {
		// Manifest is the JSON file describing the leadfield blobs.
		Manifest string `env:"LEADFIELD_MANIFEST"`
		// Labels optionally maps electrode index to a human-readable name,
		// one label per line.
		Labels string `env:"ELECTRODE_LABELS"`
		// Presets optionally names fixed target coordinates (YAML).
		Presets string `env:"TARGET_PRESETS"`
	}
	Optimization struct {
		// WorkerCount of 0 means all available cores minus one.
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"0"`
		// EvalSecondsPer10kVoxels calibrates the Pareto timeout budget.
		// Re-measure on new hardware rather than trusting the default.
		EvalSecondsPer10kVoxels float64       `env:"OPT_EVAL_SECONDS_PER_10K_VOXELS" envDefault:"0.05"`
		TimeoutFloor            time.Duration `env:"OPT_TIMEOUT_FLOOR" envDefault:"30m"`
		TimeoutCeiling          time.Duration `env:"OPT_TIMEOUT_CEILING" envDefault:"4h"`
	}
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development default: verbose logging unless overridden.
	if cfg.Environment == "development" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}
