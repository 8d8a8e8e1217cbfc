package configuration

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/armadaproject/insights/internal/common/database"
)

type InsightsConfig struct {
	Postgres database.PostgresConfig
	// Port the http api listens on
	HttpPort int `validate:"gte=1,lte=65535"`
	LogLevel logrus.Level

	Stacks StacksConfig

	// Number of top level buckets returned when a request does not set an across limit
	DefaultAcrossLimit int `validate:"gte=1"`
	// Queries slower than this are logged at info level
	SlowQueryThreshold time.Duration
	// How long resolved profile overrides are reused for. Zero disables the cache.
	ProfileCacheTtl time.Duration
}

type StacksConfig struct {
	// Maximum number of nested stack queries running at once across all requests
	Parallelism int `validate:"gte=1"`
	// Maximum number of buckets whose stacks are computed for one request
	MaxBuckets int `validate:"gte=1"`
}
