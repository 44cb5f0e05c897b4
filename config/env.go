package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Redis    RedisConfig
	DB       DBConfig
	Planning PlanningConfig
	Server   ServerConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type PlanningConfig struct {
	HorizonWeeks      int
	ExpiryHorizonDays int
}

type ServerConfig struct {
	Port      string
	JWTSecret string
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	horizonWeeks, _ := strconv.Atoi(getEnv("PLANNING_HORIZON_WEEKS", "12"))
	expiryDays, _ := strconv.Atoi(getEnv("EXPIRY_HORIZON_DAYS", "90"))

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "labstock"),
			Password: getEnv("DB_PASSWORD", "labstock"),
			Name:     getEnv("DB_NAME", "labstock"),
		},
		Planning: PlanningConfig{
			HorizonWeeks:      horizonWeeks,
			ExpiryHorizonDays: expiryDays,
		},
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			JWTSecret: getEnv("JWT_SECRET", "152fe54a-ac31-4d3c-b94b-6135cc25c55a"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
