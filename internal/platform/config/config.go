package config

import (
	"os"
	"strings"
	"time"
)

// Ledger constants. These are protocol-level limits shared with every client
// implementation and must not drift between deployments.
const (
	MaximumTagLength      = 160
	MaximumMetadataSize   = 1024
	RequiredKeySize       = 2048
	ZoneLifetime          = 7 * 24 * time.Hour
	PassivationTimeout    = 2 * time.Minute
	StatusPublishInterval = 30 * time.Second
	MaxNumberOfShards     = 10
	ZoneStatusTopic       = "zone-status"
)

// Server captures everything the binary needs from the environment.
type Server struct {
	Addr          string
	PostgresURL   string
	KafkaBrokers  []string
	RedisURL      string
	AdminToken    string
	SnapshotEvery int64
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Empty Postgres/Kafka/Redis values select the in-process fallbacks.
func FromEnv() Server {
	addr := os.Getenv("LIQUIDITY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if v := os.Getenv("LIQUIDITY_KAFKA_BROKERS"); v != "" {
		brokers = strings.Split(v, ",")
	}

	return Server{
		Addr:         addr,
		PostgresURL:  os.Getenv("LIQUIDITY_POSTGRES_URL"),
		KafkaBrokers: brokers,
		RedisURL:     os.Getenv("LIQUIDITY_REDIS_URL"),
		// No default: an unset admin token keeps the admin and diagnostics
		// routes disabled.
		AdminToken:    os.Getenv("LIQUIDITY_ADMIN_TOKEN"),
		SnapshotEvery: 100,
	}
}
