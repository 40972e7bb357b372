package reconcile

import (
	"strings"

	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/events"
)

// MappingSource records which rule produced a canonical status.
type MappingSource string

const (
	SourceStatus          MappingSource = "status"
	SourceQualifiedStatus MappingSource = "qualified_status"
	SourceEventType       MappingSource = "event_type"
	SourceDefault         MappingSource = "default"
)

// Mapping is the canonical interpretation of an event's status.
type Mapping struct {
	Sale domain.SaleStatus
	// Transaction is nil when no rule matched.
	Transaction *domain.TransactionStatus
	Source      MappingSource
}

// eventTypeStatuses is matched by substring in order; the first hit wins.
var eventTypeStatuses = []struct {
	fragment string
	status   domain.TransactionStatus
}{
	{"transaction_created", domain.TransactionStatusPending},
	{"escrow_funds_held", domain.TransactionStatusPaid},
	{"escrow_funds_released", domain.TransactionStatusCompleted},
	{"transaction_completed", domain.TransactionStatusCompleted},
	{"transaction_refunded", domain.TransactionStatusRefunded},
	{"escrow_funds_refunded", domain.TransactionStatusRefunded},
	{"transaction_disputed", domain.TransactionStatusDisputed},
	{"transaction_canceled", domain.TransactionStatusCanceled},
	{"transaction_cancelled", domain.TransactionStatusCanceled},
}

// StatusMapper canonicalises the payment vocabularies into a SaleStatus.
type StatusMapper struct {
	logger *zap.Logger
}

// NewStatusMapper builds a mapper that reports data-quality problems on logger.
func NewStatusMapper(logger *zap.Logger) *StatusMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusMapper{logger: logger}
}

// Map never fails: anything unrecognised resolves to PENDING, which is never forward progress.
func (m *StatusMapper) Map(evt events.Event) Mapping {
	raw := strings.TrimSpace(evt.Status)
	if raw != "" {
		if idx := strings.LastIndex(raw, "."); idx >= 0 {
			member := raw[idx+1:]
			if status, ok := domain.ParseTransactionStatus(member); ok {
				return translate(status, SourceQualifiedStatus)
			}
			m.logger.Warn("unknown qualified transaction status, defaulting to PENDING",
				zap.String("status", raw),
				zap.String("routing_key", evt.RoutingKey),
			)
			return Mapping{Sale: domain.SaleStatusPending, Source: SourceDefault}
		}
		if status, ok := domain.ParseTransactionStatus(raw); ok {
			return translate(status, SourceStatus)
		}
	}

	eventType := strings.ToLower(evt.EventType)
	if eventType != "" {
		for _, candidate := range eventTypeStatuses {
			if strings.Contains(eventType, candidate.fragment) {
				return translate(candidate.status, SourceEventType)
			}
		}
	}

	m.logger.Warn("data quality: event status could not be mapped, defaulting to PENDING",
		zap.String("status", raw),
		zap.String("event_type", evt.EventType),
		zap.String("routing_key", evt.RoutingKey),
	)
	return Mapping{Sale: domain.SaleStatusPending, Source: SourceDefault}
}

func translate(status domain.TransactionStatus, source MappingSource) Mapping {
	sale, _ := status.SaleStatus()
	return Mapping{Sale: sale, Transaction: &status, Source: source}
}
