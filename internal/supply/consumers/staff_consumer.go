package consumers

import (
	"context"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// StaffEventConsumer keeps the local staff cache in sync with the staff
// directory service. Events carry their own tenant ID because consumed
// messages have no request headers to derive it from.
type StaffEventConsumer struct {
	consumer       *messaging.Consumer
	staffCacheRepo *repository.StaffCacheRepository
	logger         *logger.Logger
}

// NewStaffEventConsumer creates a new staff event consumer
func NewStaffEventConsumer(rmq *messaging.RabbitMQ, staffCacheRepo *repository.StaffCacheRepository, log *logger.Logger) (*StaffEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "supply-service.staff-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeStaffEvents, "staff.#"); err != nil {
		return nil, err
	}

	c := &StaffEventConsumer{
		consumer:       consumer,
		staffCacheRepo: staffCacheRepo,
		logger:         log,
	}

	consumer.RegisterHandler(messaging.EventStaffCreated, c.handleStaffCreated)
	consumer.RegisterHandler(messaging.EventStaffUpdated, c.handleStaffUpdated)
	consumer.RegisterHandler(messaging.EventStaffDeactivated, c.handleStaffDeactivated)

	return c, nil
}

// Start starts consuming messages
func (c *StaffEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *StaffEventConsumer) handleStaffCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.StaffCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("staff_id", data.StaffID).
		Str("tenant_id", data.TenantID).
		Msg("received staff created event")

	ctx = tenant.WithTenantID(ctx, data.TenantID)

	member := &repository.StaffMember{
		StaffID: data.StaffID,
		Name:    data.Name,
	}
	if data.Email != "" {
		member.Email = &data.Email
	}
	if data.Role != "" {
		member.Role = &data.Role
	}
	return c.staffCacheRepo.Set(ctx, member)
}

func (c *StaffEventConsumer) handleStaffUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.StaffUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("staff_id", data.StaffID).
		Str("tenant_id", data.TenantID).
		Msg("received staff updated event")

	ctx = tenant.WithTenantID(ctx, data.TenantID)

	existing, err := c.staffCacheRepo.Get(ctx, data.StaffID)
	if err != nil {
		// Updates for staff we never cached are not worth retrying
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	}

	if change, ok := data.Fields["name"].(map[string]interface{}); ok {
		if newName, ok := change["to"].(string); ok {
			existing.Name = newName
		}
	}
	if change, ok := data.Fields["role"].(map[string]interface{}); ok {
		if newRole, ok := change["to"].(string); ok {
			existing.Role = &newRole
		}
	}

	return c.staffCacheRepo.Set(ctx, existing)
}

func (c *StaffEventConsumer) handleStaffDeactivated(ctx context.Context, event *messaging.Event) error {
	var data messaging.StaffDeactivatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("staff_id", data.StaffID).
		Str("tenant_id", data.TenantID).
		Msg("received staff deactivated event")

	ctx = tenant.WithTenantID(ctx, data.TenantID)
	return c.staffCacheRepo.Delete(ctx, data.StaffID)
}
