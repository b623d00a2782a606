/*
 * @module service/config/settings
 * @description 进程级配置，来自环境变量（可选 .env 文件）
 * @architecture 分层架构 - 基础设施层
 * @rules 所有配置项都有默认值，解析失败时回退到默认值
 * @dependencies github.com/joho/godotenv, github.com/spf13/cast
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Settings 进程配置
type Settings struct {
	ListenPort  string
	BaseContext string

	PollInterval      time.Duration
	ListTimeout       time.Duration
	RunTimeout        time.Duration
	ReloadInterval    time.Duration
	MaxConcurrentRuns int
	LineageColumn     string
	AllowedProcedures []string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	MQTTBroker   string
	MQTTTopic    string
	DaprPubSub   string
	DaprTopic    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	FeedbackLogEnabled  bool
	FeedbackLogKeepDays int

	ManualTriggerLimit  int
	ManualTriggerWindow time.Duration

	RetentionCron string
}

// Load 读取 .env（若存在）并从环境变量构建配置
func Load() Settings {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("加载 .env 文件失败", "error", err)
	}

	return Settings{
		ListenPort:  GetEnvWithDefault("LISTEN_PORT", "80"),
		BaseContext: GetEnvWithDefault("BASE_CONTEXT", ""),

		PollInterval:      duration("ELT_POLL_INTERVAL", 30*time.Second),
		ListTimeout:       duration("ELT_LIST_TIMEOUT", 10*time.Second),
		RunTimeout:        duration("ELT_RUN_TIMEOUT", 30*time.Minute),
		ReloadInterval:    duration("ELT_RELOAD_INTERVAL", 5*time.Minute),
		MaxConcurrentRuns: cast.ToInt(GetEnvWithDefault("ELT_MAX_CONCURRENT_RUNS", "8")),
		LineageColumn:     GetEnvWithDefault("ELT_LINEAGE_COLUMN", "elt_run_id"),
		AllowedProcedures: splitList(os.Getenv("ELT_ALLOWED_PROCEDURES")),

		RedisEnabled:  cast.ToBool(GetEnvWithDefault("REDIS_ENABLED", "false")),
		RedisAddr:     GetEnvWithDefault("REDIS_HOST", "localhost") + ":" + GetEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       cast.ToInt(GetEnvWithDefault("REDIS_DB", "0")),
		LockTTL:       duration("ELT_LOCK_TTL", 2*time.Minute),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   GetEnvWithDefault("KAFKA_TOPIC", "elt.run-outcomes"),
		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTTopic:    GetEnvWithDefault("MQTT_TOPIC", "elt/run-outcomes"),
		DaprPubSub:   os.Getenv("DAPR_PUBSUB_NAME"),
		DaprTopic:    GetEnvWithDefault("DAPR_PUBSUB_TOPIC", "elt-run-outcomes"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:    cast.ToBool(GetEnvWithDefault("MINIO_USE_SSL", "false")),

		FeedbackLogEnabled:  cast.ToBool(GetEnvWithDefault("ELT_FEEDBACK_LOG", "true")),
		FeedbackLogKeepDays: cast.ToInt(GetEnvWithDefault("ELT_FEEDBACK_LOG_KEEP_DAYS", "7")),

		ManualTriggerLimit:  cast.ToInt(GetEnvWithDefault("ELT_MANUAL_TRIGGER_LIMIT", "10")),
		ManualTriggerWindow: duration("ELT_MANUAL_TRIGGER_WINDOW", time.Minute),

		RetentionCron: GetEnvWithDefault("ELT_RETENTION_CRON", "0 0 2 * * *"),
	}
}

// GetEnvWithDefault 获取环境变量，如果不存在则返回默认值
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := cast.ToDurationE(raw)
	if err != nil || d <= 0 {
		slog.Warn("无效的时长配置，使用默认值", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DatabaseDSN 优先使用 DATABASE_URL，否则由分离的 DB_* 环境变量构建
func DatabaseDSN() string {
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}
	host := GetEnvWithDefault("DB_HOST", "localhost")
	port := GetEnvWithDefault("DB_PORT", "5432")
	user := GetEnvWithDefault("DB_USER", "postgres")
	password := GetEnvWithDefault("DB_PASSWORD", "postgres")
	dbname := GetEnvWithDefault("DB_NAME", "postgres")
	sslmode := GetEnvWithDefault("DB_SSLMODE", "disable")
	schema := GetEnvWithDefault("DB_SCHEMA", "public")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		host, port, user, password, dbname, sslmode, schema)
}
