package watermilldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/arkade-os/tokend/internal/core/domain"
	dbutil "github.com/arkade-os/tokend/internal/infrastructure/db/dbuitl"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	consumerGroup = "tokend"
	idMetadataKey = "id"
)

type subscriber struct {
	topic   string
	handler func(events []domain.Event)
}

type eventRepository struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	db         *sql.DB

	subscribers    map[string][]subscriber // topic -> subscribers
	listening      map[string]struct{}
	subscriberLock *sync.Mutex

	// history of published events when there's no db to query, keyed by topic and id.
	history     map[string][]domain.Event
	historyLock *sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatermillEventRepository publishes events with the given publisher and forwards the messages
// received by the subscriber to the registered handlers. If db is nil the history of events is
// kept in memory, otherwise it's read from the watermill tables (watermill_<topic>).
func NewWatermillEventRepository(
	publisher message.Publisher, sub message.Subscriber, db *sql.DB,
) domain.EventRepository {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventRepository{
		publisher:      publisher,
		subscriber:     sub,
		db:             db,
		subscribers:    make(map[string][]subscriber),
		listening:      make(map[string]struct{}),
		subscriberLock: &sync.Mutex{},
		history:        make(map[string][]domain.Event),
		historyLock:    &sync.RWMutex{},
		ctx:            ctx,
		cancel:         cancel,
	}
}

// NewInMemoryEventRepository is backed by a watermill go channel pubsub.
func NewInMemoryEventRepository(config ...interface{}) (domain.EventRepository, error) {
	logger, err := parseLogger(config)
	if err != nil {
		return nil, err
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            100,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return NewWatermillEventRepository(pubsub, pubsub, nil), nil
}

// NewPostgresEventRepository stores events in postgres through watermill-sql.
func NewPostgresEventRepository(config ...interface{}) (domain.EventRepository, error) {
	if len(config) < 1 {
		return nil, fmt.Errorf("invalid config: missing db")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open event repository: expected *sql.DB but got %T", config[0],
		)
	}
	logger, err := parseLogger(config[1:])
	if err != nil {
		return nil, err
	}

	publisher, err := watermillsql.NewPublisher(
		db,
		watermillsql.PublisherConfig{
			SchemaAdapter:        watermillsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	sub, err := watermillsql.NewSubscriber(
		db,
		watermillsql.SubscriberConfig{
			ConsumerGroup:    consumerGroup,
			SchemaAdapter:    watermillsql.DefaultPostgreSQLSchema{},
			OffsetsAdapter:   watermillsql.DefaultPostgreSQLOffsetsAdapter{},
			InitializeSchema: true,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	return NewWatermillEventRepository(publisher, sub, db), nil
}

func (e *eventRepository) Save(
	ctx context.Context, topic, id string, events []domain.Event,
) error {
	if len(events) == 0 {
		return nil
	}

	messages, err := toWatermillMessages(id, events)
	if err != nil {
		return err
	}
	if err := e.publisher.Publish(topic, messages...); err != nil {
		return fmt.Errorf("failed to publish events for %s: %w", id, err)
	}

	if e.db == nil {
		e.historyLock.Lock()
		key := historyKey(topic, id)
		e.history[key] = append(e.history[key], events...)
		e.historyLock.Unlock()
	}
	return nil
}

func (e *eventRepository) GetEvents(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	if e.db == nil {
		e.historyLock.RLock()
		defer e.historyLock.RUnlock()

		events := make([]domain.Event, len(e.history[historyKey(topic, id)]))
		copy(events, e.history[historyKey(topic, id)])
		return events, nil
	}
	return e.getAllEvents(ctx, topic, id)
}

func (e *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.Event),
) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	e.subscribers[topic] = append(e.subscribers[topic], subscriber{
		topic:   topic,
		handler: handler,
	})

	if _, ok := e.listening[topic]; ok {
		return
	}
	if err := e.listen(topic); err != nil {
		log.WithError(err).Errorf("failed to subscribe to topic %s", topic)
		return
	}
	e.listening[topic] = struct{}{}
}

func (e *eventRepository) ClearRegisteredHandlers(topics ...string) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if len(topics) == 0 {
		e.subscribers = make(map[string][]subscriber)
		return
	}

	for _, topic := range topics {
		delete(e.subscribers, topic)
	}
}

func (e *eventRepository) Close() {
	e.cancel()
	//nolint:errcheck
	e.publisher.Close()
	//nolint:errcheck
	e.subscriber.Close()
}

// listen forwards every message received on the topic to the handlers, one at a time, so that
// handlers see events in the order they were published.
func (e *eventRepository) listen(topic string) error {
	messages, err := e.subscriber.Subscribe(e.ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			event, err := dbutil.DeserializeEvent(msg.Payload)
			if err != nil {
				log.WithError(err).Warnf("failed to deserialize event: %s", string(msg.Payload))
				msg.Ack()
				continue
			}
			e.dispatch(topic, []domain.Event{event})
			msg.Ack()
		}
	}()
	return nil
}

func (e *eventRepository) dispatch(topic string, events []domain.Event) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	for _, subscriber := range e.subscribers[topic] {
		subscriber.handler(events)
	}
}

// getAllEvents queries the database for all historical messages in a topic filtered by id.
// Watermill table name is (watermill_<topic>).
// Messages are filtered by the Id field in the JSON payload and ordered by sequence number.
func (e *eventRepository) getAllEvents(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	query := fmt.Sprintf(
		`SELECT payload FROM watermill_%s WHERE payload->>'Id' = $1 `+
			`ORDER BY (payload->>'Seq')::BIGINT ASC, "offset" ASC;`,
		topic,
	)

	rows, err := e.db.QueryContext(ctx, query, id)
	if err != nil {
		var pqErr *pq.Error
		// 42P01: undefined_table, nothing has been published yet.
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return []domain.Event{}, nil
		}
		return nil, fmt.Errorf(
			"failed to query messages for topic %s with id %s: %w",
			topic, id, err,
		)
	}
	// nolint
	defer rows.Close()

	records := make([][]byte, 0)
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan message payload: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(
			"error iterating messages for topic %s with id %s: %w", topic, id, err,
		)
	}

	events := make([]domain.Event, 0, len(records))
	for _, record := range records {
		event, err := dbutil.DeserializeEvent(record)
		if err != nil {
			log.WithError(err).Warnf("failed to deserialize event: %s", string(record))
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func toWatermillMessages(id string, events []domain.Event) ([]*message.Message, error) {
	watermillMessages := make([]*message.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize event: %w", err)
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(idMetadataKey, id)
		watermillMessages = append(watermillMessages, msg)
	}

	return watermillMessages, nil
}

func parseLogger(config []interface{}) (watermill.LoggerAdapter, error) {
	if len(config) == 0 || config[0] == nil {
		return NewLogger(), nil
	}
	logger, ok := config[0].(watermill.LoggerAdapter)
	if !ok {
		return nil, fmt.Errorf("invalid logger: expected watermill.LoggerAdapter, got %T", config[0])
	}
	return logger, nil
}

func historyKey(topic, id string) string {
	return topic + "/" + id
}
