package configuration

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/insights/internal/common"
	"github.com/armadaproject/insights/internal/common/config"
)

func TestDefaultConfig(t *testing.T) {
	var c InsightsConfig
	_, err := common.ReadConfig(&c, "../../../config/insights", nil)
	require.NoError(t, err)

	assert.Equal(t, 30, c.Stacks.Parallelism)
	assert.Equal(t, 250, c.Stacks.MaxBuckets)
	assert.Equal(t, 90, c.DefaultAcrossLimit)
	assert.Equal(t, 5*time.Second, c.SlowQueryThreshold)
	assert.Equal(t, 5*time.Minute, c.ProfileCacheTtl)
	assert.Equal(t, 5*time.Minute, c.Postgres.MaxConnIdleTime)
	assert.Equal(t, logrus.InfoLevel, c.LogLevel)
	assert.Equal(t, "insights", c.Postgres.Connection["dbname"])
	assert.Equal(t, 8080, c.HttpPort)
	assert.NoError(t, config.Validate(c))
}

func TestValidation(t *testing.T) {
	c := InsightsConfig{
		HttpPort:           8080,
		DefaultAcrossLimit: 90,
		Stacks:             StacksConfig{Parallelism: 0, MaxBuckets: 10},
	}
	assert.Error(t, config.Validate(c))

	c.Stacks.Parallelism = 4
	assert.NoError(t, config.Validate(c))

	c.HttpPort = 70000
	assert.Error(t, config.Validate(c))

	c.HttpPort = 0
	assert.Error(t, config.Validate(c))
}
