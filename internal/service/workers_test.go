package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/stretchr/testify/require"
)

func TestSweeperExpiresContracts(t *testing.T) {
	f := newFixture(t, 2)
	c := f.create(t, contract.Policy{MinSigners: 2})
	f.clock.Advance(2 * time.Hour)

	log := lib.NewTestLogger()
	task := lib.NewTask("sweeper", service.NewSweeper(5*time.Millisecond, f.svc, log), log)
	task.Start(context.Background())
	defer func() { <-task.Stop() }()

	require.Eventually(t, func() bool {
		got, err := f.svc.GetContract(context.Background(), c.ID)
		return err == nil && got.Status == contract.StatusExpired
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperResumesStalledSettlements(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: settlement.NewMemoryLedger(), fails: 1}
	f := newFixtureWithLedger(t, 2, ledger)
	c := f.create(t, contract.Policy{MinSigners: 2})
	for _, s := range f.signers {
		_, err := f.sign(t, c, s)
		require.NoError(t, err)
	}
	require.Equal(t, contract.StatusPendingSignatures, f.status(t, c.ID).Status)

	log := lib.NewTestLogger()
	task := lib.NewTask("sweeper", service.NewSweeper(5*time.Millisecond, f.svc, log), log)
	task.Start(context.Background())
	defer func() { <-task.Stop() }()

	require.Eventually(t, func() bool {
		got, err := f.svc.GetContract(context.Background(), c.ID)
		return err == nil && got.Status == contract.StatusPendingSettlement && got.SettlementTx != ""
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, ledger.Effects())
}

func TestSettlementPollerCompletesContracts(t *testing.T) {
	f := newFixture(t, 1)
	c := f.create(t, contract.Policy{MinSigners: 1})
	_, err := f.sign(t, c, f.signers[0])
	require.NoError(t, err)
	require.Equal(t, contract.StatusPendingSettlement, f.status(t, c.ID).Status)

	// past the first backoff
	f.clock.Advance(time.Minute)

	log := lib.NewTestLogger()
	task := lib.NewTask("poller", service.NewSettlementPoller(5*time.Millisecond, f.svc, log), log)
	task.Start(context.Background())
	defer func() { <-task.Stop() }()

	require.Eventually(t, func() bool {
		got, err := f.svc.GetContract(context.Background(), c.ID)
		return err == nil && got.Status == contract.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}
