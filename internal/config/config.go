package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr      string
	JWTSecret string
	JWTTTLMin int
	DBDriver  string // "sqlite" or "postgres"
	DBDsn     string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func MustLoad() Config {
	jwtttl, _ := strconv.Atoi(getenv("JWT_TTL_MIN", "1440"))

	cfg := Config{
		Addr:      getenv("HTTP_ADDR", ":8080"),
		JWTSecret: getenv("JWT_SECRET", ""),
		JWTTTLMin: jwtttl,
		DBDriver:  getenv("DB_DRIVER", "sqlite"),
		DBDsn:     getenv("DB_DSN", "file:dmchat.db?_pragma=foreign_keys(ON)"),
	}
	return cfg
}
