package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bookstore/services/inventory/internal/category"
	"github.com/bookstore/services/inventory/internal/db"
	"github.com/bookstore/services/inventory/internal/ledger"
	"github.com/bookstore/services/inventory/internal/repo"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// maxConflictRetries bounds how often a handler re-reads and re-applies an
// operation that lost the optimistic-concurrency race.
const maxConflictRetries = 5

// Consumer is the request layer of the service: it receives rental and
// catalog lifecycle events, validates their payloads and forwards the calls
// into the ledger and category cores. It owns the conflict-retry policy the
// cores deliberately leave to their callers.
type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	serviceName string
	ledger      *ledger.Service
	categories  *category.Service
	publisher   *Publisher
	log         *zap.Logger
}

// NewConsumer creates a new event consumer
func NewConsumer(url, serviceName string, ledgerSvc *ledger.Service, categorySvc *category.Service, publisher *Publisher, log *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	if err := ch.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("Consumer connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &Consumer{
		conn:        conn,
		channel:     ch,
		serviceName: serviceName,
		ledger:      ledgerSvc,
		categories:  categorySvc,
		publisher:   publisher,
		log:         log,
	}, nil
}

// Start declares the queue, binds it and consumes until the channel closes
func (c *Consumer) Start(ctx context.Context) error {
	queueName := fmt.Sprintf("%s.inventory.queue", c.serviceName)

	queue, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKeys := []string{
		"rental.created",
		"rental.returned",
		"rental.cancelled",
		"catalog.created",
		"catalog.deleted",
	}

	for _, key := range routingKeys {
		if err := c.channel.QueueBind(
			queue.Name,
			key,
			exchangeName,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
		c.log.Info("Listening for events", zap.String("routing_key", key))
	}

	msgs, err := c.channel.Consume(
		queue.Name,
		c.serviceName, // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for msg := range msgs {
		c.handleMessage(ctx, msg)
	}

	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	c.log.Debug("Received event", zap.String("routing_key", msg.RoutingKey))

	switch msg.RoutingKey {
	case "rental.created":
		c.handleRentalCreated(ctx, msg)
	case "rental.returned":
		c.handleRentalReturned(ctx, msg)
	case "rental.cancelled":
		c.handleRentalCancelled(ctx, msg)
	case "catalog.created":
		c.handleCatalogCreated(ctx, msg)
	case "catalog.deleted":
		c.handleCatalogDeleted(ctx, msg)
	default:
		c.log.Warn("Unknown event type", zap.String("routing_key", msg.RoutingKey))
		msg.Nack(false, false) // Don't requeue unknown events
	}
}

// RentalEvent is the envelope published by the rental service
type RentalEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`
	Timestamp    string `json:"timestamp"`
	Payload      struct {
		BookID   string `json:"book_id"`
		RentalID string `json:"rental_id"`
		UserID   string `json:"user_id"`
		Quantity int32  `json:"quantity"`
	} `json:"payload"`
}

// CatalogCreatedEvent is published by the catalog service when a book is added
type CatalogCreatedEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`
	Timestamp    string `json:"timestamp"`
	Payload      struct {
		SKU      string `json:"sku"`
		Title    string `json:"title"`
		Author   string `json:"author"`
		ISBN     string `json:"isbn"`
		Category string `json:"category"`
		Active   bool   `json:"active"`
	} `json:"payload"`
}

// CatalogDeletedEvent is published by the catalog service when a book is removed
type CatalogDeletedEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`
	Timestamp    string `json:"timestamp"`
	Payload      struct {
		SKU string `json:"sku"`
	} `json:"payload"`
}

func (c *Consumer) handleRentalCreated(ctx context.Context, msg amqp.Delivery) {
	var event RentalEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal rental.created event", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	qty := event.Payload.Quantity
	if qty == 0 {
		qty = 1
	}
	bookID := event.Payload.BookID

	item, err := c.withConflictRetry(func() (*db.InventoryItem, error) {
		item, err := c.ledger.Rent(ctx, bookID, qty)
		if errors.Is(err, ledger.ErrInsufficientReserved) {
			// Walk-in rental without a prior hold
			return c.ledger.RentFromShelf(ctx, bookID, qty)
		}
		return item, err
	})
	if err != nil {
		c.settleLedgerFailure(msg, "rental.created", bookID, err)
		return
	}

	c.publishStockChange(ctx, item, "rent")
	msg.Ack(false)
}

func (c *Consumer) handleRentalReturned(ctx context.Context, msg amqp.Delivery) {
	var event RentalEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal rental.returned event", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	qty := event.Payload.Quantity
	if qty == 0 {
		qty = 1
	}
	bookID := event.Payload.BookID

	item, err := c.withConflictRetry(func() (*db.InventoryItem, error) {
		return c.ledger.ReturnRental(ctx, bookID, qty)
	})
	if err != nil {
		c.settleLedgerFailure(msg, "rental.returned", bookID, err)
		return
	}

	c.publishStockChange(ctx, item, "return_rental")
	msg.Ack(false)
}

func (c *Consumer) handleRentalCancelled(ctx context.Context, msg amqp.Delivery) {
	var event RentalEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal rental.cancelled event", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	qty := event.Payload.Quantity
	if qty == 0 {
		qty = 1
	}
	bookID := event.Payload.BookID

	item, err := c.withConflictRetry(func() (*db.InventoryItem, error) {
		return c.ledger.ReleaseReservation(ctx, bookID, qty)
	})
	if err != nil {
		c.settleLedgerFailure(msg, "rental.cancelled", bookID, err)
		return
	}

	c.publishStockChange(ctx, item, "release_reservation")
	msg.Ack(false)
}

func (c *Consumer) handleCatalogCreated(ctx context.Context, msg amqp.Delivery) {
	var event CatalogCreatedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal catalog.created event", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	c.log.Info("Creating inventory item for book",
		zap.String("sku", event.Payload.SKU),
		zap.String("title", event.Payload.Title),
	)

	categoryID, err := c.resolveCategory(ctx, event.Payload.Category)
	if err != nil {
		c.log.Error("Failed to resolve category", zap.String("category", event.Payload.Category), zap.Error(err))
		msg.Nack(false, true) // Requeue for retry
		return
	}

	item, err := c.ledger.CreateItem(ctx, ledger.CreateItemParams{
		BookID:     event.Payload.SKU,
		BookISBN:   event.Payload.ISBN,
		BookTitle:  event.Payload.Title,
		BookAuthor: event.Payload.Author,
		CategoryID: categoryID,
	})
	if err != nil {
		if errors.Is(err, repo.ErrItemAlreadyExists) {
			// Redelivery of an event we already processed
			msg.Ack(false)
			return
		}
		c.log.Error("Failed to create inventory item", zap.String("sku", event.Payload.SKU), zap.Error(err))
		msg.Nack(false, true)
		return
	}

	if err := c.publisher.PublishItemCreated(ctx, item.BookID, item.BookTitle, item.TotalCopies); err != nil {
		c.log.Error("Failed to publish inventory.item.created event", zap.Error(err))
		// Don't fail the operation if event publishing fails
	}

	msg.Ack(false)
}

func (c *Consumer) handleCatalogDeleted(ctx context.Context, msg amqp.Delivery) {
	var event CatalogDeletedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Failed to unmarshal catalog.deleted event", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	// The row stays for rental history; the item just leaves circulation
	_, err := c.withConflictRetry(func() (*db.InventoryItem, error) {
		return c.ledger.Deactivate(ctx, event.Payload.SKU)
	})
	if err != nil {
		if errors.Is(err, repo.ErrItemNotFound) {
			msg.Ack(false)
			return
		}
		c.log.Error("Failed to deactivate inventory item", zap.String("sku", event.Payload.SKU), zap.Error(err))
		msg.Nack(false, true)
		return
	}

	msg.Ack(false)
}

// resolveCategory maps a catalog category name to a tree node, creating a
// root-level node the first time the name is seen. Empty names stay unlinked.
func (c *Consumer) resolveCategory(ctx context.Context, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}

	existing, err := c.categories.GetBySlug(ctx, category.Slugify(name))
	if err == nil {
		return &existing.ID, nil
	}
	if !errors.Is(err, repo.ErrCategoryNotFound) {
		return nil, err
	}

	created, err := c.categories.Create(ctx, category.CreateParams{Name: name})
	if err != nil {
		if errors.Is(err, category.ErrDuplicateName) {
			// Lost a race with another consumer; the node exists now
			existing, gerr := c.categories.GetBySlug(ctx, category.Slugify(name))
			if gerr != nil {
				return nil, gerr
			}
			return &existing.ID, nil
		}
		return nil, err
	}

	if perr := c.publisher.PublishCategoryCreated(ctx, created.ID, created.Name, created.Slug, created.ParentID); perr != nil {
		c.log.Error("Failed to publish category.created event", zap.Error(perr))
	}

	return &created.ID, nil
}

// withConflictRetry re-runs an operation that failed the version check. Each
// retry re-reads the item through the service, so it always applies against
// fresh state.
func (c *Consumer) withConflictRetry(op func() (*db.InventoryItem, error)) (*db.InventoryItem, error) {
	var item *db.InventoryItem
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		item, err = op()
		if !errors.Is(err, repo.ErrVersionConflict) {
			return item, err
		}
		c.log.Warn("Version conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return nil, err
}

// settleLedgerFailure decides the fate of a message whose ledger call failed:
// precondition failures are final and dead-lettered, everything else requeues.
func (c *Consumer) settleLedgerFailure(msg amqp.Delivery, eventType, bookID string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInsufficientAvailable),
		errors.Is(err, ledger.ErrInsufficientReserved),
		errors.Is(err, ledger.ErrInsufficientRented),
		errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, repo.ErrItemNotFound):
		c.log.Warn("Event rejected by ledger",
			zap.String("event_type", eventType),
			zap.String("book_id", bookID),
			zap.Error(err),
		)
		msg.Nack(false, false)
	default:
		c.log.Error("Failed to process event",
			zap.String("event_type", eventType),
			zap.String("book_id", bookID),
			zap.Error(err),
		)
		msg.Nack(false, true) // Requeue for retry
	}
}

func (c *Consumer) publishStockChange(ctx context.Context, item *db.InventoryItem, operation string) {
	if err := c.publisher.PublishStockUpdated(ctx, item.BookID, operation,
		item.AvailableCopies, item.ReservedCopies, item.RentedCopies, item.TotalCopies, item.Version); err != nil {
		c.log.Error("Failed to publish stock.updated event", zap.Error(err))
	}

	if ledger.IsLowStock(item) {
		if err := c.publisher.PublishLowStock(ctx, item.BookID, item.AvailableCopies, item.MinimumStock); err != nil {
			c.log.Error("Failed to publish stock.low event", zap.Error(err))
		}
	}
}

// Close shuts down the consumer connection
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
