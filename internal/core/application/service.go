package application

import (
	"context"
	goerrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/arkade-os/tokend/internal/core/ports"
	"github.com/arkade-os/tokend/pkg/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	eventsChSize = 64

	maxTransferRetries    = 100
	maxTransferRetryDelay = 10 * time.Millisecond
)

type service struct {
	// services
	repoManager ports.RepoManager
	cache       ports.LiveStore
	scheduler   ports.SchedulerService

	// config
	auditInterval time.Duration

	// transfers on the same ledger are serialized
	locks *ledgerLocks

	eventsCh chan []domain.Event

	stopOnce sync.Once
	stop     func()
	ctx      context.Context
}

// NewService returns the host of the token ledgers. A non-positive audit interval disables the
// periodic invariant auditor, the scheduler can be nil in that case.
func NewService(
	repoManager ports.RepoManager, cache ports.LiveStore, scheduler ports.SchedulerService,
	auditInterval time.Duration,
) (Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if cache == nil {
		return nil, fmt.Errorf("missing live store")
	}
	if auditInterval > 0 && scheduler == nil {
		return nil, fmt.Errorf("missing scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &service{
		repoManager:   repoManager,
		cache:         cache,
		scheduler:     scheduler,
		auditInterval: auditInterval,
		locks:         newLedgerLocks(),
		eventsCh:      make(chan []domain.Event, eventsChSize),
		stop:          cancel,
		ctx:           ctx,
	}

	repoManager.Events().RegisterEventsHandler(domain.LedgerTopic, svc.propagateEvents)

	return svc, nil
}

func (s *service) Start() errors.Error {
	if s.auditInterval > 0 {
		log.Debugf("starting ledger auditor every %s...", s.auditInterval)
		if err := s.scheduler.ScheduleTaskEvery(s.auditInterval, s.auditLedgers); err != nil {
			return errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to schedule auditor: %w", err))
		}
		s.scheduler.Start()
	}

	log.Debug("started app service")
	return nil
}

func (s *service) Stop() {
	s.stopOnce.Do(func() {
		s.stop()
		if s.auditInterval > 0 {
			s.scheduler.Stop()
			log.Debug("stopped ledger auditor")
		}

		s.repoManager.Events().ClearRegisteredHandlers(domain.LedgerTopic)
		s.repoManager.Close()
		log.Debug("closed connection to db")
		close(s.eventsCh)
	})
}

func (s *service) Deploy(
	ctx context.Context, caller domain.AccountID, initialSupply uint64,
) (string, []domain.Event, errors.Error) {
	if caller == "" {
		return "", nil, errors.INVALID_CALLER.New("missing caller").
			WithMetadata(errors.InvalidCallerMetadata{})
	}

	ledger := domain.NewLedger(uuid.NewString(), caller, initialSupply)
	if err := s.commit(ctx, ledger); err != nil {
		return "", nil, err
	}

	log.WithField("ledger", ledger.Id()).Infof(
		"deployed ledger with supply %d owned by %s", initialSupply, caller,
	)
	return ledger.Id(), ledger.Events(), nil
}

func (s *service) TotalSupply(ctx context.Context, ledgerId string) (uint64, errors.Error) {
	snapshot, err := s.getSnapshot(ctx, ledgerId)
	if err != nil {
		return 0, err
	}
	return domain.RestoreLedger(*snapshot).TotalSupply(), nil
}

func (s *service) BalanceOf(
	ctx context.Context, ledgerId string, account domain.AccountID,
) (uint64, errors.Error) {
	snapshot, err := s.getSnapshot(ctx, ledgerId)
	if err != nil {
		return 0, err
	}
	return domain.RestoreLedger(*snapshot).BalanceOf(account), nil
}

func (s *service) Owner(ctx context.Context, ledgerId string) (domain.AccountID, errors.Error) {
	snapshot, err := s.getSnapshot(ctx, ledgerId)
	if err != nil {
		return "", err
	}
	return domain.RestoreLedger(*snapshot).Owner(), nil
}

func (s *service) GetLedgerInfo(ctx context.Context, ledgerId string) (*LedgerInfo, errors.Error) {
	snapshot, err := s.getSnapshot(ctx, ledgerId)
	if err != nil {
		return nil, err
	}
	return &LedgerInfo{
		Id:          snapshot.Id,
		Owner:       snapshot.Owner,
		TotalSupply: snapshot.TotalSupply,
		Version:     snapshot.Version,
		Holders:     len(snapshot.Balances),
		CreatedAt:   snapshot.CreatedAt,
		UpdatedAt:   snapshot.UpdatedAt,
	}, nil
}

func (s *service) Transfer(
	ctx context.Context, ledgerId string, caller, to domain.AccountID, value uint64,
) (*TransferResult, errors.Error) {
	if caller == "" {
		return nil, errors.INVALID_CALLER.New("missing caller").
			WithMetadata(errors.InvalidCallerMetadata{LedgerId: ledgerId})
	}

	unlock := s.locks.lock(ledgerId)
	defer unlock()

	// The lock only covers this process, other hosts sharing the store are detected on commit.
	for retries := 0; ; retries++ {
		res, err := s.transfer(ctx, ledgerId, caller, to, value)
		conflict := err != nil && goerrors.Is(err, domain.ErrLedgerConflict)
		if conflict && retries < maxTransferRetries {
			log.WithField("ledger", ledgerId).Debugf(
				"ledger changed concurrently, retrying transfer (%d/%d)",
				retries+1, maxTransferRetries,
			)
			// Jittered so that competing hosts don't keep colliding.
			time.Sleep(time.Duration(rand.Int63n(int64(maxTransferRetryDelay))) + time.Millisecond)
			continue
		}
		return res, err
	}
}

func (s *service) transfer(
	ctx context.Context, ledgerId string, caller, to domain.AccountID, value uint64,
) (*TransferResult, errors.Error) {
	snapshot, err := s.loadSnapshot(ctx, ledgerId)
	if err != nil {
		return nil, err
	}
	ledger := domain.RestoreLedger(*snapshot)

	ok, transferErr := ledger.Transfer(caller, to, value)
	if transferErr != nil {
		if goerrors.Is(transferErr, domain.ErrBalanceOverflow) {
			return nil, errors.BALANCE_OVERFLOW.Wrap(transferErr).
				WithMetadata(errors.BalanceOverflowMetadata{
					LedgerId: ledgerId,
					To:       to.String(),
					Balance:  ledger.BalanceOf(to),
					Value:    value,
				})
		}
		return nil, errors.INTERNAL_ERROR.Wrap(transferErr)
	}
	if !ok {
		log.WithField("ledger", ledgerId).Debugf(
			"rejected transfer of %d from %s to %s: insufficient balance", value, caller, to,
		)
		return &TransferResult{Ok: false, Events: []domain.Event{}}, nil
	}

	if err := s.commitUpdate(ctx, ledger, snapshot.Version); err != nil {
		return nil, err
	}

	log.WithField("ledger", ledgerId).Debugf("transferred %d from %s to %s", value, caller, to)
	return &TransferResult{Ok: true, Events: ledger.Events()}, nil
}

func (s *service) ListLedgers(ctx context.Context) ([]string, errors.Error) {
	ids, err := s.repoManager.Ledgers().GetLedgerIds(ctx)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to list ledgers: %w", err))
	}
	return ids, nil
}

func (s *service) GetEvents(ctx context.Context, ledgerId string) ([]domain.Event, errors.Error) {
	if _, err := s.getSnapshot(ctx, ledgerId); err != nil {
		return nil, err
	}

	events, err := s.repoManager.Events().GetEvents(ctx, domain.LedgerTopic, ledgerId)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to get events of ledger %s: %w", ledgerId, err),
		)
	}
	return events, nil
}

// Audit checks the persisted ledger, not the cached copy.
func (s *service) Audit(ctx context.Context, ledgerId string) errors.Error {
	snapshot, err := s.loadSnapshot(ctx, ledgerId)
	if err != nil {
		return err
	}

	if auditErr := domain.RestoreLedger(*snapshot).Audit(); auditErr != nil {
		return errors.INVARIANT_VIOLATION.Wrap(auditErr).
			WithMetadata(errors.InvariantViolationMetadata{
				LedgerId:    ledgerId,
				TotalSupply: snapshot.TotalSupply,
			})
	}
	return nil
}

func (s *service) AuditAll(ctx context.Context) ([]AuditReport, errors.Error) {
	ids, err := s.ListLedgers(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]AuditReport, 0, len(ids))
	for _, id := range ids {
		report := AuditReport{LedgerId: id}
		if err := s.Audit(ctx, id); err != nil {
			report.Err = err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *service) GetEventsChannel(ctx context.Context) <-chan []domain.Event {
	return s.eventsCh
}

func (s *service) auditLedgers() {
	reports, err := s.AuditAll(s.ctx)
	if err != nil {
		err.Log().WithError(err).Warn("failed to audit ledgers")
		return
	}

	for _, report := range reports {
		if report.Ok() {
			continue
		}
		log.WithField("ledger", report.LedgerId).WithError(report.Err).Error("ledger audit failed")
	}
	log.Debugf("audited %d ledgers", len(reports))
}

// getSnapshot serves reads from the live store and falls back to the repository on cache miss.
func (s *service) getSnapshot(
	ctx context.Context, ledgerId string,
) (*domain.LedgerSnapshot, errors.Error) {
	snapshot, err := s.cache.Ledgers().Get(ctx, ledgerId)
	if err != nil {
		log.WithError(err).WithField("ledger", ledgerId).Warn("failed to read ledger from live store")
	}
	if snapshot != nil {
		return snapshot, nil
	}
	return s.loadSnapshot(ctx, ledgerId)
}

func (s *service) loadSnapshot(
	ctx context.Context, ledgerId string,
) (*domain.LedgerSnapshot, errors.Error) {
	snapshot, err := s.repoManager.Ledgers().GetLedger(ctx, ledgerId)
	if err != nil {
		if goerrors.Is(err, domain.ErrLedgerNotFound) {
			return nil, errors.LEDGER_NOT_FOUND.New("ledger %s not found", ledgerId).
				WithMetadata(errors.LedgerMetadata{LedgerId: ledgerId})
		}
		return nil, errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to get ledger %s: %w", ledgerId, err),
		)
	}

	s.cacheSnapshot(ctx, *snapshot)
	return snapshot, nil
}

// commit persists a new ledger, refreshes the cache and publishes the recorded events.
// Only the repository write can fail the operation.
func (s *service) commit(ctx context.Context, ledger *domain.Ledger) errors.Error {
	snapshot := ledger.Snapshot()
	if err := s.repoManager.Ledgers().AddOrUpdateLedger(ctx, snapshot); err != nil {
		return errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to persist ledger %s: %w", ledger.Id(), err),
		)
	}

	s.publish(ctx, ledger, snapshot)
	return nil
}

// commitUpdate is like commit but fails with ErrLedgerConflict if the stored ledger moved past
// prevVersion in the meantime.
func (s *service) commitUpdate(
	ctx context.Context, ledger *domain.Ledger, prevVersion uint64,
) errors.Error {
	snapshot := ledger.Snapshot()
	if err := s.repoManager.Ledgers().UpdateLedger(ctx, snapshot, prevVersion); err != nil {
		return errors.INTERNAL_ERROR.Wrap(
			fmt.Errorf("failed to persist ledger %s: %w", ledger.Id(), err),
		)
	}

	s.publish(ctx, ledger, snapshot)
	return nil
}

func (s *service) publish(
	ctx context.Context, ledger *domain.Ledger, snapshot domain.LedgerSnapshot,
) {
	s.cacheSnapshot(ctx, snapshot)

	if err := s.saveEvents(ctx, ledger.Id(), ledger.Events()); err != nil {
		log.WithError(err).WithField("ledger", ledger.Id()).Warn("failed to publish ledger events")
	}
}

func (s *service) cacheSnapshot(ctx context.Context, snapshot domain.LedgerSnapshot) {
	if err := s.cache.Ledgers().Set(ctx, snapshot); err != nil {
		log.WithError(err).WithField("ledger", snapshot.Id).Warn("failed to update live store")
	}
}

func (s *service) saveEvents(ctx context.Context, id string, events []domain.Event) error {
	if len(events) <= 0 {
		return nil
	}
	return s.repoManager.Events().Save(ctx, domain.LedgerTopic, id, events)
}

func (s *service) propagateEvents(events []domain.Event) {
	select {
	case s.eventsCh <- events:
	default:
		log.Warnf("events channel is full, dropped %d ledger events", len(events))
	}
}

type ledgerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLedgerLocks() *ledgerLocks {
	return &ledgerLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *ledgerLocks) lock(id string) func() {
	l.mu.Lock()
	mtx, ok := l.locks[id]
	if !ok {
		mtx = &sync.Mutex{}
		l.locks[id] = mtx
	}
	l.mu.Unlock()

	mtx.Lock()
	return mtx.Unlock
}
