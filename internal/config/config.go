package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	LocationID            string
	TaxRatePercent        float64
	CatalogTTLSeconds     int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string

	// Terminal process settings.
	TerminalPort        string
	TerminalDataFile    string
	ServerURL           string
	SyncIntervalSeconds int
	TerminalUsername    string
	TerminalPassword    string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	taxRate, err := strconv.ParseFloat(getEnv("TAX_RATE_PERCENT", "8.25"), 64)
	if err != nil || taxRate < 0 {
		taxRate = 8.25
	}
	catalogTTL, err := strconv.Atoi(getEnv("CATALOG_TTL_SECONDS", "20"))
	if err != nil || catalogTTL < 1 {
		catalogTTL = 20
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	syncInterval, err := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "30"))
	if err != nil || syncInterval < 1 {
		syncInterval = 30
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		LocationID:            getEnv("LOCATION_ID", "main-store"),
		TaxRatePercent:        taxRate,
		CatalogTTLSeconds:     catalogTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),

		TerminalPort:        getEnv("TERMINAL_PORT", "8090"),
		TerminalDataFile:    getEnv("TERMINAL_DATA_FILE", "terminal-data.json"),
		ServerURL:           getEnv("SERVER_URL", "http://127.0.0.1:8080"),
		SyncIntervalSeconds: syncInterval,
		TerminalUsername:    getEnv("TERMINAL_USERNAME", "cashier"),
		TerminalPassword:    os.Getenv("TERMINAL_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) TerminalAddress() string {
	return fmt.Sprintf(":%s", c.TerminalPort)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
