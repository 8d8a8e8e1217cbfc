package repository

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func sortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func logQueryDebug(log *logrus.Entry, query *Query, description string) {
	log.
		WithField("query", removeNewlinesAndTabs(query.Sql)).
		WithField("values", query.Args).
		Debug(description)
}

func logQueryError(log *logrus.Entry, query *Query, description string, duration time.Duration) {
	log.
		WithField("query", removeNewlinesAndTabs(query.Sql)).
		WithField("values", query.Args).
		WithField("duration", duration).
		Errorf("Error executing %s query", description)
}

func logSlowQuery(log *logrus.Entry, query *Query, description string, duration, threshold time.Duration) {
	if duration > threshold {
		log.
			WithField("query", removeNewlinesAndTabs(query.Sql)).
			WithField("values", query.Args).
			WithField("duration", duration).
			Infof("Slow %s query detected", description)
	}
}

func removeNewlinesAndTabs(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "\t", "")
}
