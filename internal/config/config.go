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
	DatabaseURLTemplate   string
	DefaultTenant         string
	DefaultCompanyID      int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	MenuCacheTTLSeconds   int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	menuTTL, err := strconv.Atoi(getEnv("MENU_CACHE_TTL_SECONDS", "300"))
	if err != nil || menuTTL < 1 {
		menuTTL = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	defaultCompany, err := strconv.Atoi(getEnv("DEFAULT_COMPANY_ID", "1"))
	if err != nil || defaultCompany < 1 {
		defaultCompany = 1
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURLTemplate:   os.Getenv("DATABASE_URL_TEMPLATE"),
		DefaultTenant:         getEnv("DEFAULT_TENANT", "default"),
		DefaultCompanyID:      defaultCompany,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		MenuCacheTTLSeconds:   menuTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
