package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	HTTP     HTTPConfig
	Query    QueryConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	QueryTimeout time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TenantTTL time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	TopicAccepted string
	NumPartitions int
}

type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// QueryConfig controls day bucketing and read-side projection.
type QueryConfig struct {
	// UTCOffsetHours is the fixed local offset applied to all day math.
	// The deployment region does not observe DST, so a plain offset is
	// used instead of a tz database zone.
	UTCOffsetHours int
	// CalendarSensors lists the sensor ids bucketed by plain calendar
	// day. Every other sensor uses the 01:00-01:00 cycle day.
	CalendarSensors []string
	// DropTrailingSingleton drops a trailing day label backed by exactly
	// one reading from calendar-class label listings.
	DropTrailingSingleton bool
	// PrimaryField is the metadata key substituted when a measurement
	// has no primary value.
	PrimaryField string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "coldtrack_user"),
			Password:     getEnv("DB_PASSWORD", "coldtrack_pass"),
			DBName:       getEnv("DB_NAME", "coldtrack_db"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			QueryTimeout: getEnvAsDuration("DB_QUERY_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			TenantTTL: getEnvAsDuration("REDIS_TENANT_TTL", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAccepted: getEnv("KAFKA_TOPIC_ACCEPTED", "coldtrack.measurements.accepted"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 4000),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  strings.Split(getEnv("HTTP_ALLOWED_ORIGINS", "*"), ","),
		},
		Query: QueryConfig{
			UTCOffsetHours:        getEnvAsInt("LOCAL_UTC_OFFSET_HOURS", -3),
			CalendarSensors:       splitNonEmpty(getEnv("CALENDAR_SENSOR_IDS", "SalaMaq")),
			DropTrailingSingleton: getEnvAsBool("QUERY_DROP_TRAILING_SINGLETON", true),
			PrimaryField:          getEnv("QUERY_PRIMARY_FIELD", "TA1"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
