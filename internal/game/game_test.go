package game

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDraw uint32

func (d fixedDraw) Draw() uint32 { return uint32(d) }

func TestSettleUnknownKind(t *testing.T) {
	_, err := Settle(GameArgs{Kind: "roulette"}, 100, fixedDraw(0))
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestSettleDiceWin(t *testing.T) {
	args := GameArgs{Kind: KindDice, Dice: &DiceArgs{Target: 5_000}}
	res, err := Settle(args, 1_000_000, fixedDraw(4_999))
	require.NoError(t, err)
	assert.True(t, res.Won)
	assert.InDelta(t, 0.99*2, res.Multiplier, 1e-9)
	assert.Equal(t, uint64(1_980_000), res.Payout)
}

func TestSettleDiceLoss(t *testing.T) {
	args := GameArgs{Kind: KindDice, Dice: &DiceArgs{Target: 5_000}}
	res, err := Settle(args, 1_000_000, fixedDraw(5_000))
	require.NoError(t, err)
	assert.False(t, res.Won)
	assert.Zero(t, res.Payout)
}

func TestSettleDiceInvalidTarget(t *testing.T) {
	for _, target := range []uint32{0, 10_000, 20_000} {
		_, err := Settle(GameArgs{Kind: KindDice, Dice: &DiceArgs{Target: target}}, 100, fixedDraw(0))
		assert.ErrorIs(t, err, ErrInvalidArgs, "target=%d", target)
	}
}

func TestSettleDiceNilArgs(t *testing.T) {
	_, err := Settle(GameArgs{Kind: KindDice}, 100, fixedDraw(0))
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestSettleCrashCashoutBelowCrashPointWins(t *testing.T) {
	// r = 0 -> crashPoint = 0.99 / 1 = 0.99x; a 1.01x cashout never wins
	// against that, so pick a draw that yields a high crash point instead.
	// r = draw / 2^32; choose draw so r = 0.5 -> crashPoint = 0.99/0.5 = 1.98x.
	half := uint32(1) << 31
	args := GameArgs{Kind: KindCrash, Crash: &CrashArgs{CashoutBps: 150}} // 1.50x
	res, err := Settle(args, 1_000_000, fixedDraw(half))
	require.NoError(t, err)
	assert.True(t, res.Won)
	assert.Equal(t, uint64(1_500_000), res.Payout)
}

func TestSettleCrashCashoutAboveCrashPointLoses(t *testing.T) {
	// draw = 0 -> r = 0 -> crashPoint = 0.99x; any cashout >= 1.01x loses.
	args := GameArgs{Kind: KindCrash, Crash: &CrashArgs{CashoutBps: 150}}
	res, err := Settle(args, 1_000_000, fixedDraw(0))
	require.NoError(t, err)
	assert.False(t, res.Won)
	assert.Zero(t, res.Payout)
}

func TestSettleCrashInvalidCashout(t *testing.T) {
	_, err := Settle(GameArgs{Kind: KindCrash, Crash: &CrashArgs{CashoutBps: 100}}, 100, fixedDraw(0))
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestSettleCrashNearMaxDrawDoesNotDivideByZero(t *testing.T) {
	args := GameArgs{Kind: KindCrash, CashoutBps: 101}
	assert.NotPanics(t, func() {
		res, err := Settle(args, 100, fixedDraw(^uint32(0)))
		require.NoError(t, err)
		assert.False(t, math.IsInf(res.Multiplier, 0))
	})
}

func TestSettlePlinkoCenterIsLowestMultiplier(t *testing.T) {
	// All 8 bits set -> position 8 (edge), all bits clear -> position 0 (edge);
	// exactly 4 bits set -> position 4, the center, which is the lowest payout.
	args := GameArgs{Kind: KindPlinko, Plinko: &PlinkoArgs{Rows: 8}}
	res, err := Settle(args, 1_000_000, fixedDraw(0b00001111))
	require.NoError(t, err)
	assert.InDelta(t, plinkoMultipliers[4], res.Multiplier, 1e-9)
}

func TestSettlePlinkoEdgeIsHighestMultiplier(t *testing.T) {
	args := GameArgs{Kind: KindPlinko, Plinko: &PlinkoArgs{Rows: 8}}
	res, err := Settle(args, 1_000_000, fixedDraw(0))
	require.NoError(t, err)
	assert.InDelta(t, plinkoMultipliers[0], res.Multiplier, 1e-9)
}

func TestSettlePlinkoInvalidRows(t *testing.T) {
	_, err := Settle(GameArgs{Kind: KindPlinko, Plinko: &PlinkoArgs{Rows: 16}}, 100, fixedDraw(0))
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestHypergeometricSurvivalKnownValues(t *testing.T) {
	// total=25, mines=1, picks=1: 24 safe tiles out of 25 -> 24/25.
	assert.InDelta(t, 24.0/25.0, hypergeometricSurvival(25, 1, 1), 1e-9)

	// total=4, mines=1, picks=3: C(3,3)/C(4,3) = 1/4.
	assert.InDelta(t, 0.25, hypergeometricSurvival(4, 1, 3), 1e-9)
}

func TestSettleMinesSurvivesAllSafeDraws(t *testing.T) {
	// total=4, mines=1 (tile index 3), picks=2: draws 0 then 1 are both safe.
	rng := &sequenceDraw{values: []uint32{0, 1}}
	args := GameArgs{Kind: KindMines, Mines: &MinesArgs{Total: 4, Mines: 1, Picks: 2}}
	res, err := Settle(args, 1_000_000, rng)
	require.NoError(t, err)
	assert.True(t, res.Won)
	expectedMultiplier := houseEdgeFactor / hypergeometricSurvival(4, 1, 2)
	assert.InDelta(t, expectedMultiplier, res.Multiplier, 1e-9)
}

func TestSettleMinesHitsBomb(t *testing.T) {
	// total=4, mines=1, picks=1: draw=3 (>= safeRemaining=3) hits the bomb.
	rng := &sequenceDraw{values: []uint32{3}}
	args := GameArgs{Kind: KindMines, Mines: &MinesArgs{Total: 4, Mines: 1, Picks: 1}}
	res, err := Settle(args, 1_000_000, rng)
	require.NoError(t, err)
	assert.False(t, res.Won)
	assert.Zero(t, res.Payout)
}

func TestSettleMinesInvalidBoard(t *testing.T) {
	cases := []*MinesArgs{
		{Total: 0, Mines: 0, Picks: 1},
		{Total: 5, Mines: 5, Picks: 1},  // mines >= total
		{Total: 5, Mines: 0, Picks: 1},  // mines == 0
		{Total: 5, Mines: 1, Picks: 0},  // picks == 0
		{Total: 5, Mines: 1, Picks: 10}, // picks > safe tiles
	}
	for _, a := range cases {
		_, err := Settle(GameArgs{Kind: KindMines, Mines: a}, 100, fixedDraw(0))
		assert.ErrorIs(t, err, ErrInvalidArgs, "%+v", a)
	}
}

// sequenceDraw returns each queued value in order, then repeats the last.
type sequenceDraw struct {
	values []uint32
	idx    int
}

func (s *sequenceDraw) Draw() uint32 {
	if s.idx >= len(s.values) {
		return s.values[len(s.values)-1]
	}
	v := s.values[s.idx]
	s.idx++
	return v
}
