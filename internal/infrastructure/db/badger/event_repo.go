package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkade-os/tokend/internal/core/domain"
	dbutil "github.com/arkade-os/tokend/internal/infrastructure/db/dbuitl"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const eventStoreDir = "events"

type eventDTO struct {
	Key      string
	Topic    string `badgerhold:"index"`
	LedgerId string `badgerhold:"index"`
	Seq      uint64
	Payload  []byte
}

type eventRepository struct {
	store *badgerhold.Store

	lock     *sync.Mutex
	handlers map[string][]func(events []domain.Event)
}

func NewEventRepository(config ...interface{}) (domain.EventRepository, error) {
	baseDir, logger, ok := parseConfig(config)
	if !ok {
		return nil, fmt.Errorf("invalid config")
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, eventStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	return &eventRepository{
		store:    store,
		lock:     &sync.Mutex{},
		handlers: make(map[string][]func(events []domain.Event)),
	}, nil
}

// Save stores the events in a single transaction and then hands them over to the handlers
// registered for the topic. Handlers run synchronously in registration order and must not block.
func (r *eventRepository) Save(
	ctx context.Context, topic, id string, events []domain.Event,
) error {
	if len(events) == 0 {
		return nil
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize event: %w", err)
		}
		var seq uint64
		if e, ok := event.(domain.TransferEvent); ok {
			seq = e.Seq
		}
		dtos = append(dtos, eventDTO{
			Key:      uuid.New().String(),
			Topic:    topic,
			LedgerId: id,
			Seq:      seq,
			Payload:  payload,
		})
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		err = func() error {
			tx := r.store.Badger().NewTransaction(true)
			defer tx.Discard()

			for _, dto := range dtos {
				if err := r.store.TxInsert(tx, dto.Key, dto); err != nil {
					return err
				}
			}
			return tx.Commit()
		}()
		if err == nil || !errors.Is(err, badger.ErrConflict) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("failed to save events for %s: %w", id, err)
	}

	r.dispatch(topic, events)
	return nil
}

func (r *eventRepository) GetEvents(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	var dtos []eventDTO
	query := badgerhold.Where("LedgerId").Eq(id).And("Topic").Eq(topic).SortBy("Seq")
	if err := r.store.Find(&dtos, query); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("failed to get events for %s: %w", id, err)
	}

	events := make([]domain.Event, 0, len(dtos))
	for _, dto := range dtos {
		event, err := dbutil.DeserializeEvent(dto.Payload)
		if err != nil {
			log.WithError(err).Warnf("failed to deserialize event: %s", string(dto.Payload))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.Event),
) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.handlers[topic] = append(r.handlers[topic], handler)
}

func (r *eventRepository) ClearRegisteredHandlers(topics ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(topics) == 0 {
		r.handlers = make(map[string][]func(events []domain.Event))
		return
	}
	for _, topic := range topics {
		delete(r.handlers, topic)
	}
}

func (r *eventRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *eventRepository) dispatch(topic string, events []domain.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, handler := range r.handlers[topic] {
		handler(events)
	}
}
