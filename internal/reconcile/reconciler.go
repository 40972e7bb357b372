// Package reconcile keeps marketplace sales consistent with payment-side transactions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/events"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

const instrumentationName = "github.com/matheusmosca/marketplace-sales/internal/reconcile"

// Result values reported by Process.
const (
	ResultApplied      = "applied"
	ResultNoop         = "noop"
	ResultUnreconciled = "unreconciled"
)

// SideEffects receives committed transitions. Implementations must not block the caller.
type SideEffects interface {
	Dispatch(ctx context.Context, transition domain.Transition)
}

// Result summarises one processed message.
type Result struct {
	Outcome  string
	SaleID   int64
	Strategy Strategy
	Status   domain.SaleStatus
	Mapping  Mapping
}

// Deps bundles collaborators required to construct the reconciler.
type Deps struct {
	Store   repository.Store
	Effects SideEffects
	Logger  *zap.Logger
	Clock   func() time.Time
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// Reconciler runs normalise -> correlate -> map -> apply in one DB transaction per message.
type Reconciler struct {
	store      repository.Store
	correlator *Correlator
	mapper     *StatusMapper
	applier    *Applier
	effects    SideEffects
	logger     *zap.Logger
	tracer     trace.Tracer

	received     metric.Int64Counter
	applied      metric.Int64Counter
	noops        metric.Int64Counter
	unreconciled metric.Int64Counter
	failed       metric.Int64Counter
}

// NewReconciler wires dependencies into a Reconciler.
func NewReconciler(deps Deps) (*Reconciler, error) {
	if deps.Store == nil {
		return nil, errors.New("reconciler: store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	r := &Reconciler{
		store:      deps.Store,
		correlator: NewCorrelator(deps.Store),
		mapper:     NewStatusMapper(logger),
		applier:    NewApplier(deps.Store, deps.Clock),
		effects:    deps.Effects,
		logger:     logger,
		tracer:     tracer,
	}

	var err error
	if r.received, err = meter.Int64Counter("sales.events.received"); err != nil {
		return nil, err
	}
	if r.applied, err = meter.Int64Counter("sales.events.applied"); err != nil {
		return nil, err
	}
	if r.noops, err = meter.Int64Counter("sales.events.noop"); err != nil {
		return nil, err
	}
	if r.unreconciled, err = meter.Int64Counter("sales.events.unreconciled"); err != nil {
		return nil, err
	}
	if r.failed, err = meter.Int64Counter("sales.events.failed"); err != nil {
		return nil, err
	}
	return r, nil
}

// Handle processes one broker message. A nil error means the message must be acked;
// any error means rollback happened and the broker should redeliver.
func (r *Reconciler) Handle(ctx context.Context, routingKey string, body []byte) error {
	_, err := r.Process(ctx, routingKey, body)
	return err
}

// Process is Handle plus a description of what happened.
func (r *Reconciler) Process(ctx context.Context, routingKey string, body []byte) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.process")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.routing_key", routingKey))

	keyAttr := metric.WithAttributes(attribute.String("routing_key", routingKey))
	r.received.Add(ctx, 1, keyAttr)

	evt, err := events.Normalize(routingKey, body)
	if err != nil {
		r.fail(ctx, span, keyAttr, err)
		r.logger.Error("malformed payment event", zap.String("routing_key", routingKey), zap.Error(err))
		return Result{}, err
	}

	result, transition, err := r.apply(ctx, evt)
	if errors.Is(err, domain.ErrReconciliation) {
		r.unreconciled.Add(ctx, 1, keyAttr)
		span.SetAttributes(attribute.String("reconcile.outcome", ResultUnreconciled))
		r.logger.Error("unreconciled payment event dropped",
			zap.String("routing_key", routingKey),
			zap.String("event_type", evt.EventType),
			zap.Error(err),
		)
		return Result{Outcome: ResultUnreconciled}, nil
	}
	if err != nil {
		r.fail(ctx, span, keyAttr, err)
		r.logger.Error("payment event processing failed, leaving for redelivery",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int64("sale.id", result.SaleID),
		attribute.String("reconcile.strategy", string(result.Strategy)),
		attribute.String("reconcile.outcome", result.Outcome),
	)

	if transition == nil {
		r.noops.Add(ctx, 1, keyAttr)
		r.logger.Debug("payment event is not forward progress",
			zap.Int64("sale_id", result.SaleID),
			zap.String("status", string(result.Status)),
			zap.String("mapped", string(result.Mapping.Sale)),
		)
		return result, nil
	}

	r.applied.Add(ctx, 1, keyAttr)
	r.logger.Info("sale status reconciled",
		zap.Int64("sale_id", result.SaleID),
		zap.String("previous_status", string(transition.PreviousStatus)),
		zap.String("status", string(result.Status)),
		zap.String("strategy", string(result.Strategy)),
	)
	if r.effects != nil {
		r.effects.Dispatch(ctx, *transition)
	}
	return result, nil
}

// apply runs the transactional part; side effects happen only after Commit returns.
func (r *Reconciler) apply(ctx context.Context, evt events.Event) (Result, *domain.Transition, error) {
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return Result{}, nil, err
	}
	defer tx.Rollback()

	sale, strategy, err := r.correlator.Resolve(ctx, tx, evt)
	if err != nil {
		return Result{}, nil, err
	}

	mapping := r.mapper.Map(evt)
	outcome, err := r.applier.Apply(ctx, tx, sale, mapping, evt)
	if err != nil {
		return Result{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, nil, fmt.Errorf("commit reconciliation of sale %d: %w", sale.ID, err)
	}

	result := Result{
		Outcome:  ResultNoop,
		SaleID:   sale.ID,
		Strategy: strategy,
		Status:   sale.Status,
		Mapping:  mapping,
	}
	if !outcome.StatusChanged {
		return result, nil, nil
	}
	result.Outcome = ResultApplied
	return result, &domain.Transition{
		Sale:           sale.Clone(),
		PreviousStatus: outcome.PreviousStatus,
		Source:         evt.RoutingKey,
	}, nil
}

func (r *Reconciler) fail(ctx context.Context, span trace.Span, attrs metric.AddOption, err error) {
	r.failed.Add(ctx, 1, attrs)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
