package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_AUTO_MIGRATE", "yes")
	t.Setenv("MAX_AUDIO_MB", "80")
	t.Setenv("MAX_IMAGE_MB", "-3")
	t.Setenv("BLOB_PUBLIC_BASE_URL", "https://cdn.example.com/media/")
	t.Setenv("DB_CONN_MAX_LIFETIME_MINUTES", "10")

	cfg := LoadConfig()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.True(t, cfg.DBAutoMigrate)
	assert.Equal(t, "https://cdn.example.com/media", cfg.BlobPublicBaseURL)
	assert.Equal(t, int64(80<<20), cfg.UploadLimits().AudioBytes)
	assert.Equal(t, int64(5<<20), cfg.UploadLimits().ImageBytes)
	assert.Equal(t, 10*time.Minute, cfg.Postgres().ConnMaxLifetime)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{LogLevel: "debug", LogFormat: "json"}, &buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("track_id", 4).Debug("hello")
	assert.Contains(t, buf.String(), `"track_id":4`)

	log = NewLogger(Config{LogLevel: "loud", LogFormat: "text"}, &buf)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	_, isText := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
