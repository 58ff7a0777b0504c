package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("LIQUIDITY_ADDR", "")
	t.Setenv("LIQUIDITY_ADMIN_TOKEN", "")
	t.Setenv("LIQUIDITY_KAFKA_BROKERS", "")

	cfg := FromEnv()
	require.Equal(t, ":8080", cfg.Addr)
	require.Nil(t, cfg.KafkaBrokers)
	require.Empty(t, cfg.AdminToken,
		"an unset admin token must leave the admin surface disabled")
}

func TestFromEnvReadsValues(t *testing.T) {
	t.Setenv("LIQUIDITY_ADDR", ":9999")
	t.Setenv("LIQUIDITY_ADMIN_TOKEN", "sekrit")
	t.Setenv("LIQUIDITY_KAFKA_BROKERS", "a:9092,b:9092")

	cfg := FromEnv()
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, "sekrit", cfg.AdminToken)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}
