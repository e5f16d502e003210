package broadcast

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/multidriver/relay/internal/broadcast"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
