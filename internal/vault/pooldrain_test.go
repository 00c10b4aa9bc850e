package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// forcedWinDraw always returns 0, so any dice bet with a nonzero target
// wins unconditionally — used to drive the forced-win scenarios below
// without depending on the real RNG's distribution.
type forcedWinDraw struct{}

func (forcedWinDraw) Draw() uint32 { return 0 }

// TestPoolDrainViaConcurrentForcedWins is spec.md §8 scenario 3: ten
// concurrent forced-win bets against a pool capitalized with only
// 1_000_000 must never pay out more than MAX_PAYOUT_PERCENT of that
// capital per bet, and must never reach pool.go's reserve-underflow trap —
// the vault's settlement engine must reject any wager whose bet_args-derived
// potential payout exceeds the cap before ever touching the pool, and must
// never trust a pre-suspension cap snapshot once it resumes after the draw.
func TestPoolDrainViaConcurrentForcedWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	econ := Economics{
		MinBet: 1, MaxBet: 2_000_000, MaxPayoutBps: 1_000, // 10% of reserve per bet
		MinOperatingBalance: 0,
	}
	v := New(econ, ledgerclient.NewFake(), forcedWinDraw{}, nil)
	_, err := v.DepositLiquidity("house-lp", 1_000_000)
	require.NoError(t, err)

	// target=4950 -> multiplier = 0.99 * 10000 / 4950 = 2.0x, so a
	// 1_000_000 bet would demand a 2_000_000 payout — far beyond the
	// 100_000 house cap (10% of the 1_000_000 reserve).
	bet := diceBet(4_950)

	// Ten distinct principals so the guard's per-caller serialization
	// (spec.md §4.4) cannot itself prevent the concurrent race on the
	// shared pool — only the settlement engine's own cap checks can.
	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p := Principal(fmt.Sprintf("drainer-%d", idx))
			v.turnMu.Lock()
			v.ledger.Credit(p, 1_000_000)
			v.turnMu.Unlock()
			_, playErr := v.Play(context.Background(), p, bet, 1_000_000)
			errs[idx] = playErr
		}(i)
	}

	// A pool reserve underflow trap firing here would panic inside one of
	// the goroutines above and crash this test process outright (a
	// goroutine panic cannot be recovered by the caller) — reaching the
	// assertions below at all is itself proof the trap never fired.
	wg.Wait()

	// Each bet's own potential payout (2_000_000) already exceeds the
	// 100_000 cap computed from the untouched 1_000_000 reserve, so every
	// one of the ten must be rejected at step 2, before any of them ever
	// debit the pool.
	for _, e := range errs {
		assert.ErrorIs(t, e, ErrExceedsHousePayoutCap, "an over-cap bet must never be accepted, concurrently or otherwise")
	}

	reserve := v.PoolStats().Reserve
	assert.Equal(t, big.NewInt(1_000_000).String(), reserve.String(), "a pool that rejects every over-cap bet up front is never touched by them")
}

// TestLPDepositWithdrawRoundTripSurvivesRandomWagers is spec.md §8
// scenario 6: an LP deposits 100_000_000, a thousand random wagers are
// settled against the pool it capitalizes, and the LP then withdraws its
// full position. Share conservation must hold after every single wager,
// not just at the end, and the LP's net proceeds must track the house's
// running profit/loss net of the withdrawal fee.
func TestLPDepositWithdrawRoundTripSurvivesRandomWagers(t *testing.T) {
	econ := Economics{
		MinBet: 1, MaxBet: 1_000, MaxPayoutBps: 10_000, MinOperatingBalance: 0,
	}
	rng := rand.New(rand.NewSource(1))
	fake := ledgerclient.NewFake()
	v := New(econ, fake, randomDraw{rng}, nil)

	lp := Principal("lp1")
	minted, err := v.DepositLiquidity(lp, 100_000_000)
	require.NoError(t, err)
	require.True(t, minted.Sign() > 0)

	bettor := Principal("house-guest")
	v.turnMu.Lock()
	v.ledger.Credit(bettor, 1_000_000_000)
	v.turnMu.Unlock()

	reserveBefore := v.PoolStats().Reserve

	for i := 0; i < 1_000; i++ {
		target := uint32(1_000 + rng.Intn(8_000)) // keep multipliers bounded and bets cheap
		bet := uint64(1 + rng.Intn(1_000))
		_, playErr := v.Play(context.Background(), bettor, diceBet(target), bet)
		if playErr != nil {
			// A rejected bet (e.g. transient ErrPoolBelowOperating) must
			// never leave the books inconsistent.
			assert.True(t,
				errors.Is(playErr, ErrPoolBelowOperating) || errors.Is(playErr, ErrExceedsHousePayoutCap) || errors.Is(playErr, ErrInsufficientBalance),
				"unexpected play error mid-sweep: %v", playErr)
		}
		assert.NotPanics(t, func() { v.CheckShareConservation() }, "share conservation must hold after every wager, not just at the end")
	}

	housePL := new(big.Int).Sub(v.PoolStats().Reserve, reserveBefore)

	dest := ledgerclient.Account{Owner: "lp1-dest"}
	err = v.WithdrawAllLiquidity(context.Background(), lp, dest)
	require.NoError(t, err)

	assert.Zero(t, v.pool.SharesOf(lp).Sign(), "lp must hold zero shares after withdrawing its full position")
	v.CheckShareConservation()

	_, hadPending := v.PendingStatus(lp)
	assert.False(t, hadPending, "the lp withdrawal must have completed against the fake ledger, leaving no pending record")

	netReceived, err := fake.BalanceOf(context.Background(), dest)
	require.NoError(t, err)

	// gross ≈ 100_000_000 + housePL, up to the rounding lost to the
	// permanently-burned MinimumLiquidity sentinel share; net is gross less
	// the 1% LP withdrawal fee.
	expectedGross := new(big.Int).Add(big.NewInt(100_000_000), housePL)
	expectedFee := new(big.Int).Div(new(big.Int).Mul(expectedGross, big.NewInt(int64(LPWithdrawalFeeBps))), big.NewInt(10_000))
	expectedNet := new(big.Int).Sub(expectedGross, expectedFee)

	assert.InDelta(t, expectedNet.Int64(), int64(netReceived), 1_000,
		"lp's net proceeds must track 100_000_000 plus its share of house P/L, minus the withdrawal fee")
	assert.LessOrEqual(t, netReceived, uint64(100_000_000)+uint64(housePL.Int64()),
		"net proceeds can never exceed gross (fee must have been deducted)")
}

// randomDraw adapts a seeded math/rand.Rand to game.Randomness, used only
// to drive scenario 6's bulk wager sweep deterministically across runs.
type randomDraw struct {
	r *rand.Rand
}

func (d randomDraw) Draw() uint32 { return d.r.Uint32() }
