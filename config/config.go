package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries process-level settings. Workflow windows are not here on
// purpose; they live with the proposal service limits.
type Config struct {
	DatabaseURL   string        `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatch    int           `env:"SWEEP_BATCH" envDefault:"200"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads optional .env files, then parses the process environment.
// Variables already set in the environment win over .env contents.
func Load() (Config, error) {
	var files []string
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err == nil {
			files = append(files, name)
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("config: load env files: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
