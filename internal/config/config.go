package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort         string
	PythonServiceURL string
	CORSOrigins      string

	MaxConnections   int
	MaxMessageSizeMB int
	LogLevel         string
	Environment      string

	// Detection tuning
	EARThreshold   float64 // eyes considered closed below this ratio
	ModelThreshold float64 // eyes considered closed when either eye prediction falls below this
	ClosedFrames   int     // consecutive closed frames before an alert fires
	UseEyeModel    bool

	// Session lifecycle
	SessionMaxAge      time.Duration
	SweepInterval      time.Duration
	SweepRetryInterval time.Duration

	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// DSNForLog returns the DSN with the password masked.
func (c *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBName, c.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8081"),
		PythonServiceURL: getEnv("PYTHON_SERVICE_URL", "http://localhost:9000"),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
		MaxConnections:   getEnvInt("MAX_CONNECTIONS", 1000),
		MaxMessageSizeMB: getEnvInt("MAX_MESSAGE_SIZE_MB", 50),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Environment:      getEnv("ENVIRONMENT", "production"),

		EARThreshold:   getEnvFloat("EAR_THRESHOLD", 0.25),
		ModelThreshold: getEnvFloat("MODEL_THRESHOLD", 0.7),
		ClosedFrames:   getEnvInt("CLOSED_FRAMES", 3),
		UseEyeModel:    getEnvBool("USE_EYE_MODEL", true),

		SessionMaxAge:      getEnvDuration("SESSION_MAX_AGE", 30*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepRetryInterval: getEnvDuration("SWEEP_RETRY_INTERVAL", time.Minute),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "drowsiness_logs"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	if cfg.DBPassword == "" {
		fmt.Println("WARNING: DB_PASSWORD is not set!")
	}
	if cfg.ClosedFrames < 1 {
		cfg.ClosedFrames = 1
	}

	return cfg
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
