package repository

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"

	"github.com/armadaproject/insights/internal/insights/catalog"
)

const (
	idAlias           = "id"
	valueAlias        = "value"
	keyAlias          = "key"
	secondaryKeyAlias = "additional_key"
	baseAlias         = "base"
)

// metricSelect returns the aggregate computing metric over the value column of the union.
func metricSelect(metric catalog.Metric) (exp.Expression, error) {
	value := fmt.Sprintf("%s.%s", baseAlias, valueAlias)
	var sql string
	switch metric {
	case catalog.CountMetric:
		return goqu.L("COUNT(*)").As(string(metric)), nil
	case catalog.MinMetric:
		sql = fmt.Sprintf("MIN(%s)", value)
	case catalog.MaxMetric:
		sql = fmt.Sprintf("MAX(%s)", value)
	case catalog.MedianMetric:
		sql = fmt.Sprintf("PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s)", value)
	case catalog.P90Metric:
		sql = fmt.Sprintf("PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY %s)", value)
	case catalog.MeanMetric:
		sql = fmt.Sprintf("AVG(%s)", value)
	case catalog.SumMetric:
		sql = fmt.Sprintf("SUM(%s)", value)
	default:
		return nil, errors.Errorf("unknown metric %s", metric)
	}
	return goqu.L(fmt.Sprintf("CAST(%s AS DOUBLE PRECISION)", sql)).As(string(metric)), nil
}

// metricsFor returns the metric columns a query computes. Values only queries just count.
func metricsFor(calc *catalog.CalculationDescriptor, valuesOnly bool) []catalog.Metric {
	if valuesOnly {
		return []catalog.Metric{catalog.CountMetric}
	}
	return calc.Metrics
}
