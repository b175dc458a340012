package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("serial_tracking/workflow")

var (
	serialTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serial_tracking",
		Name:      "transitions_total",
		Help:      "Serial state transitions written to the history ledger.",
	}, []string{"event"})

	serialOperationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serial_tracking",
		Name:      "operation_failures_total",
		Help:      "Serial engine calls that returned an error, by operation and error kind.",
	}, []string{"operation", "kind"})

	serialOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "serial_tracking",
		Name:      "operation_duration_seconds",
		Help:      "Wall time of serial engine calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// operation carries the span, timing and log fields of one engine call.
type operation struct {
	name  string
	ref   models.DocumentRef
	span  trace.Span
	start time.Time
	cid   string
}

// startOperation puts the caller's company into the context so the tenant guard scopes
// every query, stamps a correlation id and opens a span.
func startOperation(ctx context.Context, name string, ref models.DocumentRef) (context.Context, *operation) {
	ctx = utils.SetCompanyIdInContext(ctx, ref.CompanyId)
	ctx, cid := utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("company_id", ref.CompanyId),
		attribute.String("document_type", ref.Type),
		attribute.Int("document_id", ref.Id),
		attribute.Int("line_id", ref.LineId),
		attribute.String("correlation_id", cid),
	))
	return ctx, &operation{name: name, ref: ref, span: span, start: time.Now(), cid: cid}
}

func (op *operation) fields() logrus.Fields {
	return logrus.Fields{
		"operation":      op.name,
		"company_id":     op.ref.CompanyId,
		"document_type":  op.ref.Type,
		"document_id":    op.ref.Id,
		"line_id":        op.ref.LineId,
		"correlation_id": op.cid,
	}
}

// finish records the outcome. transitions counts history entries written per event.
func (op *operation) finish(err error, transitions map[models.SerialEventType]int) {
	defer op.span.End()
	serialOperationDuration.WithLabelValues(op.name).Observe(time.Since(op.start).Seconds())

	if err != nil {
		serialOperationFailures.WithLabelValues(op.name, errorKind(err)).Inc()
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, err.Error())
		config.LogError(config.GetLogger(), "workflow/"+op.name, op.name, op.ref.String(), op.cid, err)
		return
	}

	total := 0
	for event, n := range transitions {
		serialTransitions.WithLabelValues(string(event)).Add(float64(n))
		total += n
	}
	op.span.SetAttributes(attribute.Int("serial_transitions", total))
	if total > 0 {
		config.GetLogger().WithFields(op.fields()).WithField("transitions", total).Info("serial transitions committed")
	}
}

func errorKind(err error) string {
	var (
		quantityErr   *models.SerialQuantityMismatchError
		generationErr *models.SerialGenerationError
		lockErr       *models.SerialLockTimeoutError
		stateErr      *models.SerialStateError
		assignErr     *models.SerialAssignmentError
		validationErr *models.SerialLockValidationError
	)
	switch {
	case errors.As(err, &quantityErr):
		return "quantity_mismatch"
	case errors.As(err, &generationErr):
		return "generation"
	case errors.As(err, &lockErr):
		return "lock_timeout"
	case errors.As(err, &stateErr):
		return "state"
	case errors.As(err, &assignErr):
		return "assignment"
	case errors.As(err, &validationErr):
		return "lock_validation"
	case errors.Is(err, models.ErrSerialTracking):
		return "tracking"
	}
	return "internal"
}
