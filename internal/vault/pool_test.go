package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolFirstDepositBurnsMinimumLiquidity(t *testing.T) {
	p := NewPool()
	minted, err := p.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(10_000-int64(MinimumLiquidity)).String(), minted.String())
	assert.Equal(t, big.NewInt(int64(MinimumLiquidity)).String(), p.SharesOf(AnonymousPrincipal).String())
	assert.True(t, p.Initialized())
}

func TestPoolFirstDepositBelowMinimumRejected(t *testing.T) {
	p := NewPool()
	_, err := p.DepositLiquidity("lp1", MinimumLiquidity-1)
	assert.ErrorIs(t, err, ErrBelowMinimum)
	assert.False(t, p.Initialized())
}

func TestPoolSecondDepositPricedByShare(t *testing.T) {
	p := NewPool()
	_, err := p.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	// Reserve now 10_000 against total shares 10_000 (9_000 lp1 + 1_000 burned).
	minted, err := p.DepositLiquidity("lp2", 5_000)
	require.NoError(t, err)
	// floor(5000 * 10000 / 10000) == 5000
	assert.Equal(t, "5000", minted.String())
}

func TestPoolWithdrawLiquidityInsufficientShares(t *testing.T) {
	p := NewPool()
	_, err := p.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	_, err = p.WithdrawLiquidity("lp1", big.NewInt(999_999))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestPoolWithdrawLiquidityRoundTrip(t *testing.T) {
	p := NewPool()
	minted, err := p.DepositLiquidity("lp1", 100_000)
	require.NoError(t, err)

	gross, err := p.WithdrawLiquidity("lp1", minted)
	require.NoError(t, err)
	// lp1 owns minted out of totalShares(100_000); reserve is 100_000.
	// gross = floor(minted * 100000 / 100000) == minted value in e8s terms
	// since minted = 100000 - MinimumLiquidity and total shares = 100000.
	expected := new(big.Int).Mul(minted, big.NewInt(100_000))
	expected.Div(expected, big.NewInt(100_000))
	assert.Equal(t, expected.Uint64(), gross)
}

func TestPoolDebitToWinUnderflowPanics(t *testing.T) {
	p := NewPool()
	_, err := p.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	assert.Panics(t, func() {
		p.DebitToWin(999_999_999)
	})
}

func TestPoolCreditFromLossThenDebitToWin(t *testing.T) {
	p := NewPool()
	_, err := p.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	p.CreditFromLoss(500)
	assert.Equal(t, "10500", p.Reserve().String())

	p.DebitToWin(200)
	assert.Equal(t, "10300", p.Reserve().String())
}

func TestPoolRestoreLiquidity(t *testing.T) {
	p := NewPool()
	minted, err := p.DepositLiquidity("lp1", 10_000)
	require.NoError(t, err)

	gross, err := p.WithdrawLiquidity("lp1", minted)
	require.NoError(t, err)
	assert.Zero(t, p.SharesOf("lp1").Sign())

	p.RestoreLiquidity("lp1", minted, gross)
	assert.Equal(t, minted.String(), p.SharesOf("lp1").String())
}

func TestPoolCanAcceptBetsAndMaxPayout(t *testing.T) {
	p := NewPool()
	_, err := p.DepositLiquidity("lp1", 1_000_000)
	require.NoError(t, err)

	assert.True(t, p.CanAcceptBets(500_000))
	assert.False(t, p.CanAcceptBets(2_000_000))
	assert.Equal(t, uint64(100_000), p.MaxAllowedPayout(10_000/10)) // 10%
}
