package vault

import "math/big"

// MinimumLiquidity is permanently burned to AnonymousPrincipal on the first
// liquidity deposit, preventing the single-LP share-price manipulation
// attack (spec.md §3, §4.2).
const MinimumLiquidity uint64 = 1_000

// LPWithdrawalFeeBps is the fee taken from gross LP withdrawals, expressed
// in basis points (100 = 1%).
const LPWithdrawalFeeBps uint64 = 100

// Pool is the shared reserve that backs every wager and the share ledger
// that tracks liquidity providers' proportional claims on it. Reserve is an
// unbounded natural number (spec.md §3: "to allow growth past 2⁶⁴ after
// many wins") backed by math/big, the same bridging role shopspring/decimal
// plays in the teacher between Go-native arithmetic and a database-native
// fixed-point column.
type Pool struct {
	reserve         *big.Int
	initialized     bool
	pendingFees     uint64
	shares          map[Principal]*big.Int
	totalSharesOut  *big.Int // cached sum of all shares incl. the burned sentinel
}

// NewPool returns an empty, uninitialized pool.
func NewPool() *Pool {
	return &Pool{
		reserve:        big.NewInt(0),
		shares:         make(map[Principal]*big.Int),
		totalSharesOut: big.NewInt(0),
	}
}

// Reserve returns a copy of the current reserve.
func (p *Pool) Reserve() *big.Int { return new(big.Int).Set(p.reserve) }

// Initialized reports whether the pool has ever received a deposit.
func (p *Pool) Initialized() bool { return p.initialized }

// PendingFeesToParent returns the accumulated-but-unforwarded protocol fee.
func (p *Pool) PendingFeesToParent() uint64 { return p.pendingFees }

// TotalShares returns the sum of every principal's share balance, including
// the permanently burned sentinel allocation.
func (p *Pool) TotalShares() *big.Int { return new(big.Int).Set(p.totalSharesOut) }

// SharesOf returns the share balance for p (zero if none).
func (p *Pool) SharesOf(p2 Principal) *big.Int {
	if s, ok := p.shares[p2]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

func (p *Pool) addShares(who Principal, delta *big.Int) {
	cur, ok := p.shares[who]
	if !ok {
		cur = big.NewInt(0)
	}
	next := new(big.Int).Add(cur, delta)
	if next.Sign() == 0 {
		delete(p.shares, who)
	} else {
		p.shares[who] = next
	}
	p.totalSharesOut.Add(p.totalSharesOut, delta)
}

// DepositLiquidity mints shares for amount e8s deposited by p and adds
// amount to the reserve. On the very first deposit it burns MinimumLiquidity
// shares to AnonymousPrincipal (spec.md §4.2). Grounded on
// dice_backend/src/defi_accounting/liquidity_pool.rs::deposit_liquidity.
func (p *Pool) DepositLiquidity(who Principal, amount uint64) (mintedShares *big.Int, err error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	amountBig := new(big.Int).SetUint64(amount)

	if p.totalSharesOut.Sign() == 0 {
		if amount < MinimumLiquidity {
			return nil, ErrBelowMinimum
		}
		minted := new(big.Int).SetUint64(amount - MinimumLiquidity)
		p.addShares(AnonymousPrincipal, new(big.Int).SetUint64(MinimumLiquidity))
		p.addShares(who, minted)
		p.reserve.Add(p.reserve, amountBig)
		p.initialized = true
		return new(big.Int).Set(minted), nil
	}

	if p.reserve.Sign() == 0 {
		// Reserve was fully drained by losses while shares still exist —
		// no price to mint against.
		return nil, ErrPoolNotInitialised
	}

	numerator := new(big.Int).Mul(amountBig, p.totalSharesOut)
	minted := new(big.Int).Div(numerator, p.reserve)
	if minted.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	p.addShares(who, minted)
	p.reserve.Add(p.reserve, amountBig)
	return new(big.Int).Set(minted), nil
}

// WithdrawLiquidity burns shares worth of the caller's position and returns
// the gross e8s payout (before the caller applies LPWithdrawalFeeBps). The
// full gross amount leaves the reserve; spec.md §4.2 requires the fee to be
// deducted by the caller so it can route the fee to the designated sink
// (accrued fees, or forwarded to the parent treasury) independently of the
// reserve accounting done here.
func (p *Pool) WithdrawLiquidity(who Principal, shares *big.Int) (gross uint64, err error) {
	if shares == nil || shares.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	held := p.SharesOf(who)
	if held.Cmp(shares) < 0 {
		return 0, ErrInsufficientShares
	}
	if p.totalSharesOut.Sign() == 0 {
		return 0, ErrPoolNotInitialised
	}

	numerator := new(big.Int).Mul(shares, p.reserve)
	grossBig := new(big.Int).Div(numerator, p.totalSharesOut)
	if !grossBig.IsUint64() {
		return 0, &FatalInvariantError{Msg: "lp withdrawal gross payout exceeds u64"}
	}
	grossU64 := grossBig.Uint64()

	if p.reserve.Cmp(grossBig) < 0 {
		return 0, ErrInsufficientReserve
	}

	p.addShares(who, new(big.Int).Neg(shares))
	p.reserve.Sub(p.reserve, grossBig)
	return grossU64, nil
}

// RestoreLiquidity reverses a WithdrawLiquidity debit — used by the
// pending-transfer manager's rollback path when the external transfer of
// an LP withdrawal definitively fails or expires (spec.md §4.5).
func (p *Pool) RestoreLiquidity(who Principal, shares *big.Int, reserveDeducted uint64) {
	p.addShares(who, shares)
	p.reserve.Add(p.reserve, new(big.Int).SetUint64(reserveDeducted))
}

// CreditFromLoss adds a player's net loss to the reserve (the house won the
// wager). Checked: this path can never overflow in practice since it only
// ever adds a single wager's bet amount, but spec.md §9 requires checked
// arithmetic on every monetary operation.
func (p *Pool) CreditFromLoss(amount uint64) {
	p.reserve.Add(p.reserve, new(big.Int).SetUint64(amount))
}

// DebitToWin subtracts a player's payout from the reserve. Fatal trap on
// underflow: the pool underflowing on a win would mean paying out more than
// the house holds, and spec.md §4.2 requires this to protect LPs over
// players rather than silently proceed.
func (p *Pool) DebitToWin(amount uint64) {
	amountBig := new(big.Int).SetUint64(amount)
	if p.reserve.Cmp(amountBig) < 0 {
		panic(&FatalInvariantError{Msg: "pool reserve underflow on win payout"})
	}
	p.reserve.Sub(p.reserve, amountBig)
}

// AccrueFee adds a protocol fee to pendingFeesToParent — tracked but not yet
// forwarded (spec.md §3). Checked.
func (p *Pool) AccrueFee(amount uint64) {
	sum, ok := checkedAddU64(p.pendingFees, amount)
	if !ok {
		panic(&FatalInvariantError{Msg: "pool pending-fees overflow"})
	}
	p.pendingFees = sum
}

// DeductPendingFees reduces pendingFeesToParent by amount after a successful
// forward to the treasury principal (reconcile.go).
func (p *Pool) DeductPendingFees(amount uint64) error {
	v, ok := checkedSubU64(p.pendingFees, amount)
	if !ok {
		return ErrInsufficientReserve
	}
	p.pendingFees = v
	return nil
}

// Position reports a principal's ownership fraction and redeemable e8s
// amount (gross, before LP withdrawal fee).
func (p *Pool) Position(who Principal) (shares *big.Int, ownership float64, redeemable uint64) {
	shares = p.SharesOf(who)
	if p.totalSharesOut.Sign() == 0 || shares.Sign() == 0 {
		return shares, 0, 0
	}
	ownership, _ = new(big.Float).Quo(
		new(big.Float).SetInt(shares),
		new(big.Float).SetInt(p.totalSharesOut),
	).Float64()

	numerator := new(big.Int).Mul(shares, p.reserve)
	redeemableBig := new(big.Int).Div(numerator, p.totalSharesOut)
	if redeemableBig.IsUint64() {
		redeemable = redeemableBig.Uint64()
	}
	return shares, ownership, redeemable
}

// PoolStats is the query-surface snapshot of pool health (spec.md §4.2,
// §6 "Query surface").
type PoolStats struct {
	TotalShares        *big.Int
	Reserve            *big.Int
	SharePrice         float64 // reserve / total shares, 0 if uninitialized
	MinimumLiquidity   uint64
	Initialized        bool
	PendingFeesToParent uint64
}

// Stats returns a snapshot of pool health.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		TotalShares:         p.TotalShares(),
		Reserve:             p.Reserve(),
		MinimumLiquidity:    MinimumLiquidity,
		Initialized:         p.initialized,
		PendingFeesToParent: p.pendingFees,
	}
	if p.totalSharesOut.Sign() > 0 {
		stats.SharePrice, _ = new(big.Float).Quo(
			new(big.Float).SetInt(p.reserve),
			new(big.Float).SetInt(p.totalSharesOut),
		).Float64()
	}
	return stats
}

// Restore repopulates pool state from persisted rows at boot. shares is
// consumed directly (not copied) since it is freshly built by the caller
// from store.ShareRow rows.
func (p *Pool) Restore(reserve *big.Int, initialized bool, pendingFees uint64, shares map[Principal]*big.Int) {
	p.reserve = reserve
	p.initialized = initialized
	p.pendingFees = pendingFees
	p.shares = shares
	total := big.NewInt(0)
	for _, s := range shares {
		total.Add(total, s)
	}
	p.totalSharesOut = total
}

// CanAcceptBets reports whether the reserve is at or above the minimum
// operating balance (spec.md §4.2).
func (p *Pool) CanAcceptBets(minOperating uint64) bool {
	return p.reserve.Cmp(new(big.Int).SetUint64(minOperating)) >= 0
}

// MaxAllowedPayout returns floor(reserve * maxPayoutPercent) (spec.md §4.2).
// maxPayoutPercent is expressed as basis points out of 10_000 to keep the
// computation in integer arithmetic (e.g. 1_000 == 10%).
func (p *Pool) MaxAllowedPayout(maxPayoutBps uint64) uint64 {
	num := new(big.Int).Mul(p.reserve, new(big.Int).SetUint64(maxPayoutBps))
	result := new(big.Int).Div(num, big.NewInt(10_000))
	if !result.IsUint64() {
		// Reserve has grown beyond a single wager's possible payout cap
		// anyway; saturate rather than trap, since this is a query path.
		return ^uint64(0)
	}
	return result.Uint64()
}
