package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"receiv3/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers fund movements and record destruction.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers capability changes and operational overrides.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine lifecycle transitions.
	CategoryOperations EventCategory = "operations"
)

// EntityType names the kind of record an event is about.
type EntityType string

const (
	EntityInvoice  EntityType = "invoice"
	EntityPool     EntityType = "pool"
	EntityPlatform EntityType = "platform"
	EntityRole     EntityType = "role"
)

type AuditEvent string

const (
	// Registry events
	EventInvoiceMinted       AuditEvent = "invoice_minted"
	EventShipmentVerified    AuditEvent = "shipment_verified"
	EventInvoiceStatusChange AuditEvent = "invoice_status_changed"
	EventInvoiceBurned       AuditEvent = "invoice_burned"
	EventInvoiceTransferred  AuditEvent = "invoice_transferred"

	// Pool events
	EventPoolCreated            AuditEvent = "pool_created"
	EventInvestmentRecorded     AuditEvent = "investment_recorded"
	EventPoolFilled             AuditEvent = "pool_filled"
	EventDisbursementRecorded   AuditEvent = "disbursement_recorded"
	EventRepaymentRecorded      AuditEvent = "repayment_recorded"
	EventInvestorReturnRecorded AuditEvent = "investor_return_recorded"
	EventPoolClosed             AuditEvent = "pool_closed"

	// Platform events
	EventPlatformFeeUpdated    AuditEvent = "platform_fee_updated"
	EventPlatformWalletUpdated AuditEvent = "platform_wallet_updated"
	EventPaused                AuditEvent = "paused"
	EventUnpaused              AuditEvent = "unpaused"
	EventEmergencyWithdrawal   AuditEvent = "emergency_withdrawal"

	// Role events
	EventRoleGranted AuditEvent = "role_granted"
	EventRoleRevoked AuditEvent = "role_revoked"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventInvoiceMinted:          CategoryCompliance,
	EventInvoiceBurned:          CategoryCompliance,
	EventInvoiceTransferred:     CategoryCompliance,
	EventInvestmentRecorded:     CategoryCompliance,
	EventDisbursementRecorded:   CategoryCompliance,
	EventRepaymentRecorded:      CategoryCompliance,
	EventInvestorReturnRecorded: CategoryCompliance,

	EventRoleGranted:           CategorySecurity,
	EventRoleRevoked:           CategorySecurity,
	EventPaused:                CategorySecurity,
	EventUnpaused:              CategorySecurity,
	EventEmergencyWithdrawal:   CategorySecurity,
	EventPlatformFeeUpdated:    CategorySecurity,
	EventPlatformWalletUpdated: CategorySecurity,

	EventShipmentVerified:    CategoryOperations,
	EventInvoiceStatusChange: CategoryOperations,
	EventPoolCreated:         CategoryOperations,
	EventPoolFilled:          CategoryOperations,
	EventPoolClosed:          CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one state transition. Old and New carry the before and after
// values relevant to the transition (statuses, fee rates, wallets, funded
// totals); Amount and Counterparty describe any fund movement.
type Event struct {
	ID           uuid.UUID
	Category     EventCategory
	Timestamp    time.Time
	Action       AuditEvent
	EntityType   EntityType
	EntityID     string
	Actor        domain.Address
	Counterparty domain.Address
	Amount       domain.Amount
	Old          string
	New          string
	Reason       string
	RequestID    string
}

// Store persists events in emission order.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Normalize fills the id, timestamp and category when unset.
func (e *Event) Normalize(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}
}
