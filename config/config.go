package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"sundew-api"`
	AppVersion                    string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (Control Database)
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"sundew"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Organization mirror databases
	MirrorMaxOpenConns int `env:"MIRROR_DB_MAX_OPEN_CONNS" env-default:"10"`
	MirrorMaxIdleConns int `env:"MIRROR_DB_MAX_IDLE_CONNS" env-default:"4"`

	// Redis (sync task queue)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka Producer (row change events)
	KafkaBrokers        []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaRowEventsTopic string   `env:"KAFKA_ROW_EVENTS_TOPIC" env-default:"row-events"`
	KafkaBatchSize      int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout   int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks   int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression    string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Kafka Consumer (webhook subscription dispatch)
	KafkaSubscriptionConsumerGroup string `env:"KAFKA_SUBSCRIPTION_CONSUMER_GROUP" env-default:"sundew-subscription-consumer"`
	KafkaConsumerEnabled           bool   `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Sync target scheduler
	SyncSchedulerEnabled   bool          `env:"SYNC_SCHEDULER_ENABLED" env-default:"true"`
	SyncPollInterval       time.Duration `env:"SYNC_POLL_INTERVAL" env-default:"30s"`
	SyncPeriodMin          time.Duration `env:"SYNC_PERIOD_MIN" env-default:"30s"`
	SyncPeriodMax          time.Duration `env:"SYNC_PERIOD_MAX" env-default:"24h"`
	SyncPageSize           int           `env:"SYNC_PAGE_SIZE" env-default:"500"`
	SyncHTTPTimeoutSeconds int           `env:"SYNC_HTTP_TIMEOUT_SECONDS" env-default:"30"`

	// Backfill
	BackfillMaxAttempts int           `env:"BACKFILL_MAX_ATTEMPTS" env-default:"3"`
	BackfillBaseBackoff time.Duration `env:"BACKFILL_BASE_BACKOFF" env-default:"1s"`
	BackfillPageTimeout time.Duration `env:"BACKFILL_PAGE_TIMEOUT" env-default:"30s"`

	// Subscription delivery
	DeliveryTimeoutSeconds int `env:"DELIVERY_TIMEOUT_SECONDS" env-default:"10"`
	DeliveryWorkerCount    int `env:"DELIVERY_WORKER_COUNT" env-default:"4"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4318"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
