// Package obs adapts the ledger's operation callback to zap logging and
// Prometheus counters.
package obs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/otakumori/petals/pkg/petals"
)

// Recorder implements petals.OperationLogger.
type Recorder struct {
	logger     *zap.Logger
	operations *prometheus.CounterVec
}

// NewRecorder wires a Recorder and registers its metrics.
func NewRecorder(logger *zap.Logger, registerer prometheus.Registerer) *Recorder {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "petals_ledger_operations_total",
		Help: "Ledger operations by operation name and outcome status.",
	}, []string{"operation", "status"})
	registerer.MustRegister(operations)
	return &Recorder{
		logger:     logger,
		operations: operations,
	}
}

// LogOperation records a ledger operation outcome.
func (recorder *Recorder) LogOperation(_ context.Context, entry petals.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount),
		zap.String("reason", entry.Reason.String()),
		zap.String("status", entry.Status),
	}
	if entry.CollectKey != "" {
		fields = append(fields, zap.String("collect_key", entry.CollectKey))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		recorder.logger.Warn("ledger operation failed", fields...)
		return
	}
	fields = append(fields, zap.Int64("balance_after", entry.BalanceAfter))
	recorder.logger.Info("ledger operation", fields...)
}
