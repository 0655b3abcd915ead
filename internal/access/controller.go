package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/requestcontext"
)

// Store persists role membership for one or more components.
type Store interface {
	Add(ctx context.Context, component Component, role Role, account, grantedBy domain.Address) (bool, error)
	Remove(ctx context.Context, component Component, role Role, account domain.Address) (bool, error)
	Has(ctx context.Context, component Component, role Role, account domain.Address) (bool, error)
	Members(ctx context.Context, component Component, role Role) ([]domain.Address, error)
}

// Controller guards one component's operations.
type Controller struct {
	component Component
	store     Store
	logger    *slog.Logger
	audit     audit.Emitter
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(c *Controller) {
		c.audit = publisher
	}
}

func NewController(component Component, store Store, opts ...Option) *Controller {
	c := &Controller{component: component, store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Component() Component { return c.component }

// Bootstrap grants roles without an authorization check. It is used once at
// startup for the deploying account and for wiring the engine into the
// registry.
func (c *Controller) Bootstrap(ctx context.Context, account domain.Address, roles ...Role) error {
	if account.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "invalid address")
	}
	for _, role := range roles {
		added, err := c.store.Add(ctx, c.component, role, account, account)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to bootstrap role")
		}
		if added {
			c.emit(ctx, audit.EventRoleGranted, role, account, account)
		}
	}
	return nil
}

// Grant gives account role. Only an ADMIN may grant. Granting a role the
// account already holds is a no-op without an event.
func (c *Controller) Grant(ctx context.Context, caller domain.Address, role Role, account domain.Address) error {
	if err := c.Require(ctx, caller, RoleAdmin); err != nil {
		return err
	}
	if !knownRoles[role] {
		return dErrors.New(dErrors.CodeValidation, "unknown role "+string(role))
	}
	if account.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "invalid address")
	}
	added, err := c.store.Add(ctx, c.component, role, account, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant role")
	}
	if added {
		c.emit(ctx, audit.EventRoleGranted, role, caller, account)
	}
	return nil
}

// Revoke removes role from account. Only an ADMIN may revoke.
func (c *Controller) Revoke(ctx context.Context, caller domain.Address, role Role, account domain.Address) error {
	if err := c.Require(ctx, caller, RoleAdmin); err != nil {
		return err
	}
	return c.remove(ctx, caller, role, account)
}

// Renounce lets the caller drop one of its own roles.
func (c *Controller) Renounce(ctx context.Context, caller domain.Address, role Role) error {
	if caller.IsZero() {
		return dErrors.Wrap(ErrMissingRole, dErrors.CodeForbidden, "caller is required")
	}
	return c.remove(ctx, caller, role, caller)
}

func (c *Controller) remove(ctx context.Context, caller domain.Address, role Role, account domain.Address) error {
	removed, err := c.store.Remove(ctx, c.component, role, account)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke role")
	}
	if removed {
		c.emit(ctx, audit.EventRoleRevoked, role, caller, account)
	}
	return nil
}

func (c *Controller) HasRole(ctx context.Context, role Role, account domain.Address) (bool, error) {
	if account.IsZero() {
		return false, nil
	}
	ok, err := c.store.Has(ctx, c.component, role, account)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read roles")
	}
	return ok, nil
}

// Members lists the accounts holding role.
func (c *Controller) Members(ctx context.Context, role Role) ([]domain.Address, error) {
	members, err := c.store.Members(ctx, c.component, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list role members")
	}
	return members, nil
}

// Require succeeds when caller holds at least one of roles.
func (c *Controller) Require(ctx context.Context, caller domain.Address, roles ...Role) error {
	for _, role := range roles {
		ok, err := c.HasRole(ctx, role, caller)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return dErrors.Wrap(ErrMissingRole, dErrors.CodeForbidden,
		fmt.Sprintf("account %s is missing role %s on %s", caller, strings.Join(names, " or "), c.component))
}

func (c *Controller) emit(ctx context.Context, event audit.AuditEvent, role Role, actor, account domain.Address) {
	entityID := string(c.component) + ":" + string(role)
	if c.logger != nil {
		c.logger.InfoContext(ctx, string(event),
			"event", string(event),
			"log_type", "audit",
			"component", string(c.component),
			"role", string(role),
			"account", account.String(),
			"actor", actor.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if c.audit == nil {
		return
	}
	err := c.audit.Emit(ctx, audit.Event{
		Action:       event,
		EntityType:   audit.EntityRole,
		EntityID:     entityID,
		Actor:        actor,
		Counterparty: account,
		New:          account.String(),
		RequestID:    requestcontext.RequestID(ctx),
	})
	if err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "failed to emit audit event",
			"event", string(event),
			"entity_id", entityID,
			"error", err,
		)
	}
}
