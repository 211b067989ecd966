package application_test

import (
	"context"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkade-os/tokend/internal/core/application"
	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/arkade-os/tokend/internal/core/ports"
	"github.com/arkade-os/tokend/internal/infrastructure/db"
	inmemorylivestore "github.com/arkade-os/tokend/internal/infrastructure/live-store/inmemory"
	scheduler "github.com/arkade-os/tokend/internal/infrastructure/scheduler/gocron"
	"github.com/arkade-os/tokend/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	alice   = domain.AccountID("alice")
	bob     = domain.AccountID("bob")
	charlie = domain.AccountID("charlie")
)

func TestDeploy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0)

	t.Run("valid", func(t *testing.T) {
		for _, supply := range []uint64{1000, 0, math.MaxUint64} {
			ledgerId, events, err := svc.Deploy(ctx, alice, supply)
			require.Nil(t, err)
			require.NotEmpty(t, ledgerId)
			require.Len(t, events, 1)

			genesis, ok := events[0].(domain.TransferEvent)
			require.True(t, ok)
			require.True(t, genesis.IsGenesis())
			require.Equal(t, alice, *genesis.To)
			require.Equal(t, supply, genesis.Value)

			totalSupply, err := svc.TotalSupply(ctx, ledgerId)
			require.Nil(t, err)
			require.Equal(t, supply, totalSupply)

			balance, err := svc.BalanceOf(ctx, ledgerId, alice)
			require.Nil(t, err)
			require.Equal(t, supply, balance)

			owner, err := svc.Owner(ctx, ledgerId)
			require.Nil(t, err)
			require.Equal(t, alice, owner)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		ledgerId, events, err := svc.Deploy(ctx, "", 1000)
		require.NotNil(t, err)
		require.Equal(t, errors.INVALID_CALLER.Code, err.Code())
		require.Empty(t, ledgerId)
		require.Nil(t, events)
	})
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0)

	ledgerId, _, err := svc.Deploy(ctx, alice, 1000)
	require.Nil(t, err)

	t.Run("valid", func(t *testing.T) {
		res, err := svc.Transfer(ctx, ledgerId, alice, bob, 100)
		require.Nil(t, err)
		require.True(t, res.Ok)
		require.Len(t, res.Events, 1)
		event := res.Events[0].(domain.TransferEvent)
		require.Equal(t, alice, *event.From)
		require.Equal(t, bob, *event.To)
		require.Equal(t, uint64(100), event.Value)
		require.Equal(t, uint64(1), event.Seq)

		res, err = svc.Transfer(ctx, ledgerId, alice, alice, 300)
		require.Nil(t, err)
		require.True(t, res.Ok)

		res, err = svc.Transfer(ctx, ledgerId, bob, charlie, 0)
		require.Nil(t, err)
		require.True(t, res.Ok)

		requireBalances(t, svc, ledgerId, map[domain.AccountID]uint64{
			alice: 900, bob: 100, charlie: 0,
		})
	})

	t.Run("insufficient balance", func(t *testing.T) {
		info, err := svc.GetLedgerInfo(ctx, ledgerId)
		require.Nil(t, err)

		res, err := svc.Transfer(ctx, ledgerId, bob, alice, 5000)
		require.Nil(t, err)
		require.False(t, res.Ok)
		require.Empty(t, res.Events)

		res, err = svc.Transfer(ctx, ledgerId, charlie, alice, 1)
		require.Nil(t, err)
		require.False(t, res.Ok)

		infoAfter, err := svc.GetLedgerInfo(ctx, ledgerId)
		require.Nil(t, err)
		require.Equal(t, info.Version, infoAfter.Version)
		requireBalances(t, svc, ledgerId, map[domain.AccountID]uint64{
			alice: 900, bob: 100, charlie: 0,
		})
	})

	t.Run("invalid", func(t *testing.T) {
		res, err := svc.Transfer(ctx, ledgerId, "", bob, 1)
		require.NotNil(t, err)
		require.Equal(t, errors.INVALID_CALLER.Code, err.Code())
		require.Nil(t, res)

		res, err = svc.Transfer(ctx, "unknown", alice, bob, 1)
		require.NotNil(t, err)
		require.Equal(t, errors.LEDGER_NOT_FOUND.Code, err.Code())
		require.Nil(t, res)
	})
}

func TestTransferOverflow(t *testing.T) {
	ctx := context.Background()
	svc, repoManager := newTestService(t, 0)

	// Corrupted ledger where crediting bob overflows his balance.
	snapshot := domain.LedgerSnapshot{
		Id:          "corrupted",
		Owner:       alice,
		TotalSupply: 10,
		Balances:    map[domain.AccountID]uint64{alice: 10, bob: math.MaxUint64},
		Version:     3,
	}
	require.NoError(t, repoManager.Ledgers().AddOrUpdateLedger(ctx, snapshot))

	res, err := svc.Transfer(ctx, snapshot.Id, alice, bob, 1)
	require.NotNil(t, err)
	require.Nil(t, res)
	require.Equal(t, errors.BALANCE_OVERFLOW.Code, err.Code())
	require.Equal(t, "corrupted", err.Metadata()["ledger_id"])

	got, getErr := repoManager.Ledgers().GetLedger(ctx, snapshot.Id)
	require.NoError(t, getErr)
	require.Equal(t, snapshot.Version, got.Version)
	require.Equal(t, uint64(10), got.Balances[alice])

	events, err := svc.GetEvents(ctx, snapshot.Id)
	require.Nil(t, err)
	require.Empty(t, events)
}

func TestConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0)

	ledgerId, _, err := svc.Deploy(ctx, alice, 100)
	require.Nil(t, err)

	results := make([]*application.TransferResult, 20)
	errs := make([]error, 20)
	wg := &sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Transfer(ctx, ledgerId, alice, bob, 10)
			results[i] = res
			if err != nil {
				errs[i] = err
			}
		}(i)
	}
	wg.Wait()

	okCount := 0
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Ok {
			okCount++
		}
	}
	require.Equal(t, 10, okCount)

	requireBalances(t, svc, ledgerId, map[domain.AccountID]uint64{alice: 0, bob: 100})
	require.Nil(t, svc.Audit(ctx, ledgerId))

	events, err := svc.GetEvents(ctx, ledgerId)
	require.Nil(t, err)
	require.Len(t, events, 11)
	for i, event := range events {
		require.Equal(t, uint64(i), event.(domain.TransferEvent).Seq)
	}
}

func TestTransferSharedStore(t *testing.T) {
	ctx := context.Background()
	datadir := t.TempDir()

	// Two hosts sharing the same sqlite database, like two tokend processes.
	svcs := make([]application.Service, 0, 2)
	repoManagers := make([]ports.RepoManager, 0, 2)
	for i := 0; i < 2; i++ {
		repoManager, err := db.NewService(db.ServiceConfig{
			EventStoreType:   "inmemory",
			DataStoreType:    "sqlite",
			EventStoreConfig: []interface{}{},
			DataStoreConfig:  []interface{}{datadir},
		})
		require.NoError(t, err)
		svc, err := application.NewService(
			repoManager, inmemorylivestore.NewLiveStore(), nil, 0,
		)
		require.NoError(t, err)
		t.Cleanup(svc.Stop)
		svcs = append(svcs, svc)
		repoManagers = append(repoManagers, repoManager)
	}

	ledgerId, _, err := svcs[0].Deploy(ctx, alice, 1000)
	require.Nil(t, err)

	const transfersPerHost = 20
	var okCount atomic.Int64
	errs := make(chan error, 2*transfersPerHost)
	wg := &sync.WaitGroup{}
	for _, svc := range svcs {
		for i := 0; i < transfersPerHost; i++ {
			wg.Add(1)
			go func(svc application.Service) {
				defer wg.Done()
				res, err := svc.Transfer(ctx, ledgerId, alice, bob, 1)
				if err != nil {
					errs <- err
					return
				}
				if res.Ok {
					okCount.Add(1)
				}
			}(svc)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(2*transfersPerHost), okCount.Load())

	for _, repoManager := range repoManagers {
		ledger, err := repoManager.Ledgers().GetLedger(ctx, ledgerId)
		require.NoError(t, err)
		require.Equal(t, uint64(okCount.Load()), ledger.Balances[bob])
		require.Equal(t, 1000-uint64(okCount.Load()), ledger.Balances[alice])
		require.Equal(t, uint64(okCount.Load()), ledger.Version)
	}
	for _, svc := range svcs {
		require.Nil(t, svc.Audit(ctx, ledgerId))
	}
}

func TestEventsOnPostgres(t *testing.T) {
	pgDsn := os.Getenv("TOKEND_TEST_PG_URL")
	if pgDsn == "" {
		t.Skip("TOKEND_TEST_PG_URL not set")
	}

	ctx := context.Background()
	repoManager, err := db.NewService(db.ServiceConfig{
		EventStoreType:   "postgres",
		DataStoreType:    "postgres",
		EventStoreConfig: []interface{}{pgDsn, true},
		DataStoreConfig:  []interface{}{pgDsn, true},
	})
	require.NoError(t, err)
	svc, err := application.NewService(repoManager, inmemorylivestore.NewLiveStore(), nil, 0)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	ledgerId, _, svcErr := svc.Deploy(ctx, alice, 1000)
	require.Nil(t, svcErr)
	res, svcErr := svc.Transfer(ctx, ledgerId, alice, bob, 100)
	require.Nil(t, svcErr)
	require.True(t, res.Ok)

	history, svcErr := svc.GetEvents(ctx, ledgerId)
	require.Nil(t, svcErr)
	require.Len(t, history, 2)
	require.True(t, history[0].(domain.TransferEvent).IsGenesis())
	require.Equal(t, uint64(1), history[1].(domain.TransferEvent).Seq)
	requireBalances(t, svc, ledgerId, map[domain.AccountID]uint64{alice: 900, bob: 100})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0)
	eventsCh := svc.GetEventsChannel(ctx)

	ledgerId, _, err := svc.Deploy(ctx, alice, 1000)
	require.Nil(t, err)
	res, err := svc.Transfer(ctx, ledgerId, alice, bob, 100)
	require.Nil(t, err)
	require.True(t, res.Ok)
	res, err = svc.Transfer(ctx, ledgerId, bob, alice, 1000)
	require.Nil(t, err)
	require.False(t, res.Ok)

	received := make([]domain.TransferEvent, 0)
	for len(received) < 2 {
		select {
		case events := <-eventsCh:
			for _, event := range events {
				received = append(received, event.(domain.TransferEvent))
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for ledger events")
		}
	}
	require.Len(t, received, 2)
	require.True(t, received[0].IsGenesis())
	require.Equal(t, uint64(100), received[1].Value)

	history, err := svc.GetEvents(ctx, ledgerId)
	require.Nil(t, err)
	require.Len(t, history, 2)
	require.Equal(t, uint64(0), history[0].(domain.TransferEvent).Seq)
	require.Equal(t, uint64(1), history[1].(domain.TransferEvent).Seq)

	_, err = svc.GetEvents(ctx, "unknown")
	require.NotNil(t, err)
	require.Equal(t, errors.LEDGER_NOT_FOUND.Code, err.Code())
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	svc, repoManager := newTestService(t, 0)

	ledgerId, _, err := svc.Deploy(ctx, alice, 1000)
	require.Nil(t, err)
	require.Nil(t, svc.Audit(ctx, ledgerId))

	corrupted := domain.LedgerSnapshot{
		Id:          "corrupted",
		Owner:       alice,
		TotalSupply: 1000,
		Balances:    map[domain.AccountID]uint64{alice: 900},
	}
	require.NoError(t, repoManager.Ledgers().AddOrUpdateLedger(ctx, corrupted))

	err = svc.Audit(ctx, corrupted.Id)
	require.NotNil(t, err)
	require.Equal(t, errors.INVARIANT_VIOLATION.Code, err.Code())

	err = svc.Audit(ctx, "unknown")
	require.NotNil(t, err)
	require.Equal(t, errors.LEDGER_NOT_FOUND.Code, err.Code())

	reports, err := svc.AuditAll(ctx)
	require.Nil(t, err)
	require.Len(t, reports, 2)
	failed := 0
	for _, report := range reports {
		if !report.Ok() {
			failed++
			require.Equal(t, corrupted.Id, report.LedgerId)
		}
	}
	require.Equal(t, 1, failed)
}

func TestListLedgers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0)

	ids, err := svc.ListLedgers(ctx)
	require.Nil(t, err)
	require.Empty(t, ids)

	expected := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		ledgerId, _, err := svc.Deploy(ctx, alice, 10)
		require.Nil(t, err)
		expected = append(expected, ledgerId)
	}

	ids, err = svc.ListLedgers(ctx)
	require.Nil(t, err)
	require.ElementsMatch(t, expected, ids)
}

func TestStartStop(t *testing.T) {
	svc, _ := newTestService(t, 50*time.Millisecond)
	require.Nil(t, svc.Start())

	ledgerId, _, err := svc.Deploy(context.Background(), alice, 10)
	require.Nil(t, err)
	require.NotEmpty(t, ledgerId)

	time.Sleep(200 * time.Millisecond)
	svc.Stop()
	svc.Stop()

	_, ok := <-svc.GetEventsChannel(context.Background())
	for ok {
		_, ok = <-svc.GetEventsChannel(context.Background())
	}
}

func newTestService(
	t *testing.T, auditInterval time.Duration,
) (application.Service, ports.RepoManager) {
	repoManager, err := db.NewService(db.ServiceConfig{
		EventStoreType:   "badger",
		DataStoreType:    "badger",
		EventStoreConfig: []interface{}{"", nil},
		DataStoreConfig:  []interface{}{"", nil},
	})
	require.NoError(t, err)

	svc, err := application.NewService(
		repoManager, inmemorylivestore.NewLiveStore(), scheduler.NewScheduler(), auditInterval,
	)
	require.NoError(t, err)
	return svc, repoManager
}

func requireBalances(
	t *testing.T, svc application.Service, ledgerId string,
	expected map[domain.AccountID]uint64,
) {
	t.Helper()

	var sum uint64
	for account, amount := range expected {
		balance, err := svc.BalanceOf(context.Background(), ledgerId, account)
		require.Nil(t, err)
		require.Equal(t, amount, balance, "balance of %s", account)
		sum += amount
	}
	totalSupply, err := svc.TotalSupply(context.Background(), ledgerId)
	require.Nil(t, err)
	require.Equal(t, totalSupply, sum)
}
