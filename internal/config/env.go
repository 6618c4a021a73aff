package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig         = "STEPSYNC_CONFIG"
	EnvTokenStorePath = "TOKEN_STORE_PATH"
	EnvTrackerToken   = "TRACKER_TOKEN"
	EnvTrackerURL     = "TRACKER_URL"
)

// DotEnvFile is loaded from the working directory before the environment is read.
const DotEnvFile = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath     string // STEPSYNC_CONFIG: override config file path
	TokenStorePath string // TOKEN_STORE_PATH: token store directory
	TrackerToken   string // TRACKER_TOKEN: tracker API token
	TrackerURL     string // TRACKER_URL: tracker base URL
}

// LoadDotEnv merges the variables in path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("loading %s: %w", path, err)
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		TokenStorePath: os.Getenv(EnvTokenStorePath),
		TrackerToken:   os.Getenv(EnvTrackerToken),
		TrackerURL:     os.Getenv(EnvTrackerURL),
	}
}
