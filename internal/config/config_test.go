package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitCSV("a:9092, b:9092"))
	assert.Equal(t, []string{"a"}, splitCSV("a,,"))
	assert.Empty(t, splitCSV(" , "))
}

func TestDurationParsingFallsBack(t *testing.T) {
	assert.Equal(t, 20*time.Minute, minutes("20"))
	assert.Equal(t, 15*time.Minute, minutes("nope"))
	assert.Equal(t, 15*time.Minute, minutes("-3"))
	assert.Equal(t, 30*time.Second, seconds("30"))
	assert.Equal(t, 60*time.Second, seconds(""))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.NotEmpty(t, cfg.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.HoldTTL)
	assert.NotEmpty(t, cfg.KafkaBrokers)
}
