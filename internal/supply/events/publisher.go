package events

import (
	"context"

	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
)

// Publisher is the interface services publish domain events through.
// Failures are handled inside the implementation; services treat
// publishing as fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// SupplyEventPublisher publishes supply-domain events to the topic
// exchange. All methods log failures instead of returning them; domain
// operations never fail because a notification could not be delivered.
type SupplyEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewSupplyEventPublisher creates a new supply event publisher
func NewSupplyEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*SupplyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeSupplyEvents, "supply-service", log)
	if err != nil {
		return nil, err
	}

	return &SupplyEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// Publish sends one event, logging instead of propagating failures
func (p *SupplyEventPublisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	if p == nil {
		return nil
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish supply event")
	}
	return nil
}

// PublishStockAdded publishes a stock added event
func (p *SupplyEventPublisher) PublishStockAdded(ctx context.Context, data messaging.StockAddedEvent) {
	p.Publish(ctx, messaging.EventStockAdded, data)
}

// PublishStockRemoved publishes a stock removed event
func (p *SupplyEventPublisher) PublishStockRemoved(ctx context.Context, data messaging.StockRemovedEvent) {
	p.Publish(ctx, messaging.EventStockRemoved, data)
}

// PublishRequestConsumed publishes a request consumed event
func (p *SupplyEventPublisher) PublishRequestConsumed(ctx context.Context, data messaging.RequestConsumedEvent) {
	p.Publish(ctx, messaging.EventRequestConsumed, data)
}

// PublishInvoiceApproved publishes an invoice approved event
func (p *SupplyEventPublisher) PublishInvoiceApproved(ctx context.Context, data messaging.InvoiceApprovedEvent) {
	p.Publish(ctx, messaging.EventInvoiceApproved, data)
}

// PublishProductApproved publishes a product approved event
func (p *SupplyEventPublisher) PublishProductApproved(ctx context.Context, data messaging.ProductApprovedEvent) {
	p.Publish(ctx, messaging.EventProductApproved, data)
}

// PublishAlertRaised publishes an alert raised event
func (p *SupplyEventPublisher) PublishAlertRaised(ctx context.Context, data messaging.AlertRaisedEvent) {
	p.Publish(ctx, messaging.EventAlertRaised, data)
}
