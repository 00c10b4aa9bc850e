package vault

import (
	"math/big"
	"testing"

	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSolvencyUnknownExternalBalanceIsVacuouslyTrue(t *testing.T) {
	v := New(Economics{}, ledgerclient.NewFake(), alwaysLoseDraw{}, nil)
	report := v.checkSolvency()
	assert.Nil(t, report.ExternalBalance)
	assert.True(t, report.Solvent, "with no external reading yet there is nothing to contradict")
}

func TestCheckSolvencyCoveredLiabilities(t *testing.T) {
	v := New(Economics{}, ledgerclient.NewFake(), alwaysLoseDraw{}, nil)
	v.turnMu.Lock()
	v.ledger.Credit("alice", 1_000)
	v.turnMu.Unlock()
	_, err := v.DepositLiquidity("lp1", 2_000)
	require.NoError(t, err)

	v.turnMu.Lock()
	v.reconciler.cachedBalance = 3_000
	v.reconciler.hasCachedBalance = true
	v.turnMu.Unlock()

	report := v.checkSolvency()
	require.NotNil(t, report.ExternalBalance)
	assert.Equal(t, uint64(3_000), *report.ExternalBalance)
	assert.Equal(t, uint64(1_000), report.UserBalancesTotal)
	assert.Equal(t, "2000", report.PoolReserve.String())
	assert.True(t, report.Solvent)
}

func TestCheckSolvencyDetectsShortfall(t *testing.T) {
	v := New(Economics{}, ledgerclient.NewFake(), alwaysLoseDraw{}, nil)
	v.turnMu.Lock()
	v.ledger.Credit("alice", 5_000)
	v.reconciler.cachedBalance = 1_000
	v.reconciler.hasCachedBalance = true
	v.turnMu.Unlock()

	report := v.checkSolvency()
	assert.False(t, report.Solvent, "external balance of 1000 cannot cover 5000 in user liabilities")
}

func TestCheckSolvencyIncludesPendingTransfers(t *testing.T) {
	v := New(Economics{MinWithdrawal: 1, MaxWithdrawal: 10_000}, ledgerclient.NewFake(), alwaysLoseDraw{}, nil)
	p := Principal("alice")
	v.turnMu.Lock()
	v.ledger.Credit(p, 10_000)
	v.pending.byPrincipal[p] = &PendingTransfer{Principal: p, Kind: KindUserWithdraw, Amount: 4_000, CreatedAt: 1}
	v.reconciler.cachedBalance = 10_000
	v.reconciler.hasCachedBalance = true
	v.turnMu.Unlock()

	report := v.checkSolvency()
	assert.Equal(t, uint64(4_000), report.PendingTransfersTotal)
}

func TestCheckShareConservationPassesAfterNormalOps(t *testing.T) {
	v := New(Economics{}, ledgerclient.NewFake(), alwaysLoseDraw{}, nil)
	_, err := v.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)
	_, err = v.DepositLiquidity("lp2", 5_000)
	require.NoError(t, err)

	assert.NotPanics(t, func() { v.checkShareConservation() })
}

func TestCheckShareConservationPanicsOnTamperedTotal(t *testing.T) {
	v := New(Economics{}, ledgerclient.NewFake(), alwaysLoseDraw{}, nil)
	_, err := v.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	v.pool.totalSharesOut.Add(v.pool.totalSharesOut, big.NewInt(1))

	assert.Panics(t, func() { v.checkShareConservation() })
}
