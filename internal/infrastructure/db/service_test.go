package db_test

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/arkade-os/tokend/internal/core/ports"
	"github.com/arkade-os/tokend/internal/infrastructure/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	alice   = domain.AccountID("25a43cecfa0e1b1a4f72d64ad15f4cfa7a84d0723e8511c969aa543638ea9967")
	bob     = domain.AccountID("33ffb3dee353b1a9ebe4ced64b946238d0a4ac364f275d771da6ad2445d07ae0")
	charlie = domain.AccountID("4bc85a7b1b7d5ffb6b8f0f0a8cde1e5f8a27c3d1b2e6e29bc3f1fb1c9d4e8a71")
)

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_badger_stores",
			config: db.ServiceConfig{
				EventStoreType:   "badger",
				DataStoreType:    "badger",
				EventStoreConfig: []interface{}{"", nil},
				DataStoreConfig:  []interface{}{"", nil},
			},
		},
		{
			name: "repo_manager_with_badger_stores_on_disk",
			config: db.ServiceConfig{
				EventStoreType:   "badger",
				DataStoreType:    "badger",
				EventStoreConfig: []interface{}{t.TempDir(), nil},
				DataStoreConfig:  []interface{}{t.TempDir(), nil},
			},
		},
		{
			name: "repo_manager_with_sqlite_stores",
			config: db.ServiceConfig{
				EventStoreType:   "inmemory",
				DataStoreType:    "sqlite",
				EventStoreConfig: []interface{}{},
				DataStoreConfig:  []interface{}{t.TempDir()},
			},
		},
	}

	if pgDsn := os.Getenv("TOKEND_TEST_PG_URL"); pgDsn != "" {
		tests = append(tests, struct {
			name   string
			config db.ServiceConfig
		}{
			name: "repo_manager_with_postgres_stores",
			config: db.ServiceConfig{
				EventStoreType:   "postgres",
				DataStoreType:    "postgres",
				EventStoreConfig: []interface{}{pgDsn, true},
				DataStoreConfig:  []interface{}{pgDsn, true},
			},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			require.NotNil(t, svc)
			defer svc.Close()

			testLedgerRepository(t, svc)
			testEventRepository(t, svc)
		})
	}
}

func TestServiceInvalidConfig(t *testing.T) {
	fixtures := []db.ServiceConfig{
		{EventStoreType: "unknown", DataStoreType: "badger"},
		{EventStoreType: "badger", DataStoreType: "unknown"},
		{
			EventStoreType:   "badger",
			DataStoreType:    "badger",
			EventStoreConfig: []interface{}{""},
			DataStoreConfig:  []interface{}{"", nil},
		},
		{
			EventStoreType:   "inmemory",
			DataStoreType:    "sqlite",
			EventStoreConfig: []interface{}{},
			DataStoreConfig:  []interface{}{1},
		},
		{
			EventStoreType:   "inmemory",
			DataStoreType:    "postgres",
			EventStoreConfig: []interface{}{},
			DataStoreConfig:  []interface{}{"postgres://localhost/db"},
		},
	}

	for _, f := range fixtures {
		svc, err := db.NewService(f)
		require.Error(t, err)
		require.Nil(t, svc)
	}
}

func testLedgerRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_ledger_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Ledgers()

		ledger, err := repo.GetLedger(ctx, uuid.New().String())
		require.ErrorIs(t, err, domain.ErrLedgerNotFound)
		require.Nil(t, ledger)

		first := domain.NewLedger(uuid.New().String(), alice, 1000)
		err = repo.AddOrUpdateLedger(ctx, first.Snapshot())
		require.NoError(t, err)

		ledger, err = repo.GetLedger(ctx, first.Id())
		require.NoError(t, err)
		require.NotNil(t, ledger)
		require.Equal(t, first.Snapshot(), *ledger)

		ok, err := first.Transfer(alice, bob, 100)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = first.Transfer(bob, alice, 100)
		require.NoError(t, err)
		require.True(t, ok)

		err = repo.AddOrUpdateLedger(ctx, first.Snapshot())
		require.NoError(t, err)

		ledger, err = repo.GetLedger(ctx, first.Id())
		require.NoError(t, err)
		require.Equal(t, first.Snapshot(), *ledger)
		require.Equal(t, uint64(2), ledger.Version)
		require.Contains(t, ledger.Balances, bob)
		require.Zero(t, ledger.Balances[bob])

		// Versioned updates: a writer holding a stale version must not overwrite the ledger.
		stale := domain.RestoreLedger(first.Snapshot())
		ok, err = first.Transfer(alice, bob, 10)
		require.NoError(t, err)
		require.True(t, ok)
		err = repo.UpdateLedger(ctx, first.Snapshot(), 2)
		require.NoError(t, err)

		ok, err = stale.Transfer(alice, charlie, 10)
		require.NoError(t, err)
		require.True(t, ok)
		err = repo.UpdateLedger(ctx, stale.Snapshot(), 2)
		require.ErrorIs(t, err, domain.ErrLedgerConflict)

		ledger, err = repo.GetLedger(ctx, first.Id())
		require.NoError(t, err)
		require.Equal(t, first.Snapshot(), *ledger)
		require.Equal(t, uint64(3), ledger.Version)
		require.Equal(t, uint64(10), ledger.Balances[bob])
		require.NotContains(t, ledger.Balances, charlie)

		missing := domain.NewLedger(uuid.New().String(), alice, 1)
		err = repo.UpdateLedger(ctx, missing.Snapshot(), 0)
		require.ErrorIs(t, err, domain.ErrLedgerNotFound)

		// Amounts beyond the signed 64-bit range.
		time.Sleep(time.Second)
		second := domain.NewLedger(uuid.New().String(), bob, ^uint64(0))
		err = repo.AddOrUpdateLedger(ctx, second.Snapshot())
		require.NoError(t, err)

		ledger, err = repo.GetLedger(ctx, second.Id())
		require.NoError(t, err)
		require.Equal(t, second.Snapshot(), *ledger)

		ids, err := repo.GetLedgerIds(ctx)
		require.NoError(t, err)
		require.Subset(t, ids, []string{first.Id(), second.Id()})
		firstIndex, secondIndex := -1, -1
		for i, id := range ids {
			switch id {
			case first.Id():
				firstIndex = i
			case second.Id():
				secondIndex = i
			}
		}
		require.Less(t, firstIndex, secondIndex)
	})
}

func testEventRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_event_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Events()

		var lock sync.Mutex
		received := make([]domain.Event, 0)
		repo.RegisterEventsHandler(domain.LedgerTopic, func(events []domain.Event) {
			lock.Lock()
			defer lock.Unlock()
			received = append(received, events...)
		})
		defer repo.ClearRegisteredHandlers(domain.LedgerTopic)

		ledger := domain.NewLedger(uuid.New().String(), alice, 1000)
		err := repo.Save(ctx, domain.LedgerTopic, ledger.Id(), ledger.Events())
		require.NoError(t, err)

		restored := domain.RestoreLedger(ledger.Snapshot())
		ok, err := restored.Transfer(alice, bob, 100)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = restored.Transfer(bob, bob, 50)
		require.NoError(t, err)
		require.True(t, ok)
		err = repo.Save(ctx, domain.LedgerTopic, ledger.Id(), restored.Events())
		require.NoError(t, err)

		other := domain.NewLedger(uuid.New().String(), bob, 1)
		err = repo.Save(ctx, domain.LedgerTopic, other.Id(), other.Events())
		require.NoError(t, err)

		events, err := repo.GetEvents(ctx, domain.LedgerTopic, ledger.Id())
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, event := range events {
			transfer, ok := event.(domain.TransferEvent)
			require.True(t, ok)
			require.Equal(t, uint64(i), transfer.Seq)
			require.Equal(t, ledger.Id(), transfer.Id)
		}
		genesis := events[0].(domain.TransferEvent)
		require.Nil(t, genesis.From)
		require.Equal(t, alice, *genesis.To)
		require.Equal(t, uint64(1000), genesis.Value)
		transfer := events[1].(domain.TransferEvent)
		require.Equal(t, alice, *transfer.From)
		require.Equal(t, bob, *transfer.To)
		require.Equal(t, uint64(100), transfer.Value)

		events, err = repo.GetEvents(ctx, domain.LedgerTopic, uuid.New().String())
		require.NoError(t, err)
		require.Empty(t, events)

		require.Eventually(t, func() bool {
			lock.Lock()
			defer lock.Unlock()
			return len(received) >= 4
		}, 10*time.Second, 50*time.Millisecond)

		lock.Lock()
		defer lock.Unlock()
		seqs := make([]uint64, 0)
		for _, event := range received {
			transfer := event.(domain.TransferEvent)
			if transfer.Id == ledger.Id() {
				seqs = append(seqs, transfer.Seq)
			}
		}
		require.True(t, sort.SliceIsSorted(seqs, func(i, j int) bool { return seqs[i] < seqs[j] }))
		require.Equal(t, []uint64{0, 1, 2}, seqs)
	})
}
