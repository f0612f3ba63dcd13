package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	TickRate    int
	Dev         bool
}

// Load reads configuration from the environment, with a best-effort .env
// file for development. Every field has a working default except the
// database, which is optional: without it the server runs unranked with
// guest-only play.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getenv("ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		TickRate:    60,
		Dev:         os.Getenv("DEV") == "1",
	}
	if v, err := strconv.Atoi(os.Getenv("TICK_RATE")); err == nil && v > 0 && v <= 240 {
		cfg.TickRate = v
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
