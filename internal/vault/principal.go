// Package vault implements the custodial accounting and settlement core:
// user balances, the liquidity pool, provably-fair wager settlement, and
// the pending-transfer state machine that reconciles the vault's internal
// bookkeeping against an asynchronous external token ledger.
package vault

// Principal is the opaque caller identity used to key every account, share
// balance, and pending transfer. On the Internet Computer this is a 29-byte
// binary identity rendered as base32 text; here it is just that rendered
// text, treated as an opaque comparable key.
type Principal string

// AnonymousPrincipal is the sentinel identity that permanently holds the
// burned MINIMUM_LIQUIDITY shares minted on a pool's first deposit. It can
// never place a bet, deposit, or withdraw.
const AnonymousPrincipal Principal = "2vxsx-fae" // IC's well-known anonymous principal

// IsAnonymous reports whether p is the reserved sentinel principal.
func (p Principal) IsAnonymous() bool {
	return p == AnonymousPrincipal
}

func (p Principal) String() string { return string(p) }
