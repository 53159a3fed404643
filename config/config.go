package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadENV loads variables from .env when GO_ENV is not set or is development
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

// Config is built once at process start and passed by reference to every
// component. It is never mutated after Get returns.
type Config struct {
	GO_ENV string
	PORT   int

	// Database
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string

	// Redis (job store; in-memory fallback when empty)
	REDIS_URL string

	// LLM inference (OpenAI-compatible endpoint)
	INFERENCE_API_KEY  string
	INFERENCE_BASE_URL string
	INFERENCE_MODEL    string
	INFERENCE_RPM      int

	// Spaces archive for uploaded PDFs (local dir fallback when unset)
	SPACES_ACCESS_KEY string
	SPACES_SECRET_KEY string
	SPACES_BUCKET     string
	SPACES_REGION     string
	SPACES_ENDPOINT   string
	ARCHIVE_DIR       string

	// Upload limits
	MAX_FILE_SIZE_MB int
	MAX_PAGES        int
	MAX_FILES_COUNT  int

	// Pipeline tuning
	MAX_CONCURRENT_DOCUMENTS int
	EXTRACTION_MAX_RETRIES   int
	EXTRACTION_TIMEOUT       time.Duration
}

func Get() (*Config, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	archiveDir := os.Getenv("ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = "uploads"
	}

	cfg := &Config{
		GO_ENV:       os.Getenv("GO_ENV"),
		PORT:         port,
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),

		REDIS_URL: os.Getenv("REDIS_URL"),

		INFERENCE_API_KEY:  os.Getenv("INFERENCE_API_KEY"),
		INFERENCE_BASE_URL: os.Getenv("INFERENCE_BASE_URL"),
		INFERENCE_MODEL:    os.Getenv("INFERENCE_MODEL"),
		INFERENCE_RPM:      envInt("INFERENCE_RPM", 60),

		SPACES_ACCESS_KEY: os.Getenv("SPACES_ACCESS_KEY"),
		SPACES_SECRET_KEY: os.Getenv("SPACES_SECRET_KEY"),
		SPACES_BUCKET:     os.Getenv("SPACES_BUCKET"),
		SPACES_REGION:     os.Getenv("SPACES_REGION"),
		SPACES_ENDPOINT:   os.Getenv("SPACES_ENDPOINT"),
		ARCHIVE_DIR:       archiveDir,

		MAX_FILE_SIZE_MB:         envInt("MAX_FILE_SIZE_MB", 10),
		MAX_PAGES:                envInt("MAX_PAGES", 20),
		MAX_FILES_COUNT:          envInt("MAX_FILES_COUNT", 10),
		MAX_CONCURRENT_DOCUMENTS: envInt("MAX_CONCURRENT_DOCUMENTS", 4),
		EXTRACTION_MAX_RETRIES:   envInt("EXTRACTION_MAX_RETRIES", 3),
		EXTRACTION_TIMEOUT:       envDuration("EXTRACTION_TIMEOUT", 90*time.Second),
	}

	return cfg, nil
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
