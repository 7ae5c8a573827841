package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresConfigDefaults(t *testing.T) {
	cfg := PostgresConfig{MaxOpenConns: 10, MaxIdleConns: 40}.withDefaults()
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)

	assert.Equal(t, DefaultPostgresConfig(), PostgresConfig{}.withDefaults())
}

func TestOpenPostgresRejectsBadDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://%zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse dsn")
}

func TestContainsPattern(t *testing.T) {
	assert.Equal(t, "", ContainsPattern("   "))
	assert.Equal(t, "%cambridge 18%", ContainsPattern(" Cambridge 18 "))
	assert.Equal(t, `%100\% real%`, ContainsPattern("100% real"))
	assert.Equal(t, `%ie\_2026%`, ContainsPattern("IE_2026"))
	assert.Equal(t, `%a\\b%`, ContainsPattern(`a\b`))
}
