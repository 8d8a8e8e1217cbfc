package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConnectionString(t *testing.T) {
	tests := map[string]struct {
		values   map[string]string
		expected string
	}{
		"empty": {
			values:   map[string]string{},
			expected: "",
		},
		"sorted by key": {
			values:   map[string]string{"host": "localhost", "dbname": "insights", "port": "5432"},
			expected: "dbname='insights' host='localhost' port='5432'",
		},
		"escaped": {
			values:   map[string]string{"password": `it's\secret`},
			expected: `password='it\'s\\secret'`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CreateConnectionString(tc.values))
		})
	}
}

func TestParsePoolConfig(t *testing.T) {
	tests := map[string]map[string]string{
		"no time zone":     {"host": "localhost", "dbname": "insights"},
		"time zone given":  {"host": "localhost", "timezone": "Europe/London"},
		"mixed case given": {"host": "localhost", "TimeZone": "America/New_York"},
	}
	for name, connection := range tests {
		t.Run(name, func(t *testing.T) {
			config, err := ParsePoolConfig(PostgresConfig{
				Connection:      connection,
				MaxOpenConns:    7,
				MaxConnIdleTime: 2 * time.Minute,
			})
			require.NoError(t, err)
			assert.Equal(t, "UTC", config.ConnConfig.RuntimeParams["timezone"])
			assert.NotContains(t, config.ConnConfig.RuntimeParams, "TimeZone")
			assert.Equal(t, int32(7), config.MaxConns)
			assert.Equal(t, 2*time.Minute, config.MaxConnIdleTime)
			assert.Equal(t, "localhost", config.ConnConfig.Host)
		})
	}
}
