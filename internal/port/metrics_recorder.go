package port

import (
	"time"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

// MetricsRecorder receives operation outcomes from the core.
type MetricsRecorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	ObserveSupply(supply domain.Supply)
	OutboxDropped()
}
