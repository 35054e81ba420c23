package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/dmitrijs2005/credkeeper/internal/flagx"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name in Config's env tags.
const EnvPrefix = "CREDKEEPER_"

// parseEnvFile loads a dotenv file given with -envfile into the process
// environment. Variables already set are left untouched.
func parseEnvFile() {
	path := flagx.EnvFileFlags()
	if path == "" {
		return
	}

	if err := godotenv.Load(path); err != nil {
		panic(err)
	}
}

// parseEnv overlays CREDKEEPER_* variables. Unset variables keep the value
// from earlier layers.
func parseEnv(config *Config) {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		panic(err)
	}
}
