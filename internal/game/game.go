// Package game implements the pure, side-effect-free payout rules for each
// supported wager type (spec.md §2, §9). Every Settle implementation takes
// the bet amount and a source of randomness and returns a deterministic
// payout plus a human-readable outcome description for the audit log —
// nothing here touches a balance, a pool, or the network. Grounded on
// original_source/{dice,crash,plinko}_backend, which keep exactly this same
// "pure settle function, 1% house edge baked into the multiplier formula"
// separation from their own accounting layers.
package game

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgs is returned when a GameArgs value fails its own
// game-specific bounds check (distinct from the vault-level MIN_BET/MAX_BET
// check, which runs before Settle is ever called).
var ErrInvalidArgs = errors.New("game: invalid arguments")

// Kind tags which game a GameArgs value carries.
type Kind string

const (
	KindDice   Kind = "dice"
	KindCrash  Kind = "crash"
	KindPlinko Kind = "plinko"
	KindMines  Kind = "mines"
)

// DiceArgs rolls a uniform 0-9999 draw against a roll-under target.
type DiceArgs struct {
	// Target is the roll-under threshold in basis points of 10_000, e.g.
	// 5_000 means "win if draw < 5000" (50% win chance before house edge).
	Target uint32
}

// CrashArgs cashes out at a client-chosen multiplier against a crash point
// derived from the draw, per original_source/crash_backend's
// "crash = 0.99 / (1 - r)" formula (house edge exactly 1% at every
// multiplier regardless of cash-out strategy).
type CrashArgs struct {
	// CashoutBps is the multiplier at which the player cashes out,
	// expressed in hundredths of 1.0 (e.g. 150 = 1.50x; minimum 101 = 1.01x).
	CashoutBps uint32
}

// PlinkoArgs drops a ball through Rows binary decisions; FinalPosition is
// derived from the draw, not chosen by the caller.
type PlinkoArgs struct {
	Rows uint8 // only 8 is supported; field kept for forward compatibility
}

// MinesArgs reveals Picks tiles out of a Total-tile board seeded with Mines
// bombs; survival multiplier follows the classic hypergeometric formula.
type MinesArgs struct {
	Total uint8
	Mines uint8
	Picks uint8
}

// GameArgs is the tagged union the settlement engine dispatches on
// (spec.md §4.3's bet_args). Exactly one of the embedded pointers is set.
type GameArgs struct {
	Kind   Kind
	Dice   *DiceArgs
	Crash  *CrashArgs
	Plinko *PlinkoArgs
	Mines  *MinesArgs
}

// Randomness is the single source of entropy Settle consumes, injected by
// the caller so game logic stays pure and testable. Draw returns a value in
// [0, 2^32).
type Randomness interface {
	Draw() uint32
}

// Result is the outcome of a single Settle call.
type Result struct {
	Payout      uint64 // gross payout including stake, 0 on a loss
	Multiplier  float64
	Won         bool
	Description string
}

// houseEdgeFactor is the 1% house edge baked into every multiplier formula
// in this package (original_source/crash_backend: "mathematically
// guarantees exactly 1% house edge for ALL multipliers").
const houseEdgeFactor = 0.99

// Settle dispatches on args.Kind and computes the payout for a bet of
// amount e8s. It performs no I/O and touches no vault state — the
// settlement engine (internal/vault) is solely responsible for applying the
// returned payout to a balance and the pool (spec.md §4.3 step 6).
func Settle(args GameArgs, amount uint64, rng Randomness) (Result, error) {
	switch args.Kind {
	case KindDice:
		return settleDice(args.Dice, amount, rng)
	case KindCrash:
		return settleCrash(args.Crash, amount, rng)
	case KindPlinko:
		return settlePlinko(args.Plinko, amount, rng)
	case KindMines:
		return settleMines(args.Mines, amount, rng)
	default:
		return Result{}, fmt.Errorf("%w: unknown game kind %q", ErrInvalidArgs, args.Kind)
	}
}

// PotentialPayout returns the largest payout amount could possibly realize
// under args, computed without drawing any randomness (spec.md §4.3 step 2:
// "potential-payout ≤ max_allowed_payout" is validated from bet_args alone,
// before the account re-read and the RNG suspension). For dice, crash, and
// mines the win multiplier is fixed by args regardless of the draw, so the
// potential payout equals the payout Settle would realize on a win. Plinko's
// multiplier depends on which of the 9 slots the draw lands in, so the
// potential payout uses the richest slot — the house's actual worst case.
func PotentialPayout(args GameArgs, amount uint64) (uint64, error) {
	switch args.Kind {
	case KindDice:
		a := args.Dice
		if a == nil || a.Target == 0 || a.Target >= 10_000 {
			return 0, fmt.Errorf("%w: dice target must be in (0, 10000)", ErrInvalidArgs)
		}
		multiplier := houseEdgeFactor * float64(10_000) / float64(a.Target)
		return uint64(math.Floor(float64(amount) * multiplier)), nil
	case KindCrash:
		a := args.Crash
		if a == nil || a.CashoutBps < 101 {
			return 0, fmt.Errorf("%w: crash cashout must be >= 1.01x", ErrInvalidArgs)
		}
		cashout := float64(a.CashoutBps) / 100.0
		return uint64(math.Floor(float64(amount) * cashout)), nil
	case KindPlinko:
		a := args.Plinko
		if a == nil || a.Rows != 8 {
			return 0, fmt.Errorf("%w: plinko only supports 8 rows", ErrInvalidArgs)
		}
		richest := 0.0
		for _, m := range plinkoMultipliers {
			if m > richest {
				richest = m
			}
		}
		return uint64(math.Floor(float64(amount) * richest)), nil
	case KindMines:
		a := args.Mines
		if a == nil || a.Total == 0 || a.Mines == 0 || a.Mines >= a.Total || a.Picks == 0 || a.Picks > a.Total-a.Mines {
			return 0, fmt.Errorf("%w: mines board must have 0 < mines < total and 0 < picks <= safe tiles", ErrInvalidArgs)
		}
		multiplier := houseEdgeFactor / hypergeometricSurvival(a.Total, a.Mines, a.Picks)
		return uint64(math.Floor(float64(amount) * multiplier)), nil
	default:
		return 0, fmt.Errorf("%w: unknown game kind %q", ErrInvalidArgs, args.Kind)
	}
}

func settleDice(a *DiceArgs, amount uint64, rng Randomness) (Result, error) {
	if a == nil || a.Target == 0 || a.Target >= 10_000 {
		return Result{}, fmt.Errorf("%w: dice target must be in (0, 10000)", ErrInvalidArgs)
	}
	draw := rng.Draw() % 10_000
	won := draw < a.Target
	multiplier := houseEdgeFactor * float64(10_000) / float64(a.Target)

	desc := fmt.Sprintf("dice: target=%d draw=%d", a.Target, draw)
	if !won {
		return Result{Payout: 0, Multiplier: multiplier, Won: false, Description: desc}, nil
	}
	payout := uint64(math.Floor(float64(amount) * multiplier))
	return Result{Payout: payout, Multiplier: multiplier, Won: true, Description: desc}, nil
}

func settleCrash(a *CrashArgs, amount uint64, rng Randomness) (Result, error) {
	if a == nil || a.CashoutBps < 101 {
		return Result{}, fmt.Errorf("%w: crash cashout must be >= 1.01x", ErrInvalidArgs)
	}
	draw := rng.Draw()
	r := float64(draw) / float64(^uint32(0))
	if r >= 0.999999 {
		r = 0.999999 // avoid dividing by ~zero when 1-r underflows
	}
	crashPoint := houseEdgeFactor / (1 - r)
	cashout := float64(a.CashoutBps) / 100.0

	desc := fmt.Sprintf("crash: point=%.4fx cashout=%.2fx", crashPoint, cashout)
	if cashout > crashPoint {
		return Result{Payout: 0, Multiplier: crashPoint, Won: false, Description: desc}, nil
	}
	payout := uint64(math.Floor(float64(amount) * cashout))
	return Result{Payout: payout, Multiplier: cashout, Won: true, Description: desc}, nil
}

// plinkoMultipliers is the fixed 8-row table (original_source/plinko_backend
// ::get_multipliers): (256 / C(8,k)) × 0.99, position 0..8.
var plinkoMultipliers = [9]float64{
	253.44, 31.68, 9.05142857142857, 4.52571428571429, 3.62057142857143,
	4.52571428571429, 9.05142857142857, 31.68, 253.44,
}

func settlePlinko(a *PlinkoArgs, amount uint64, rng Randomness) (Result, error) {
	if a == nil || a.Rows != 8 {
		return Result{}, fmt.Errorf("%w: plinko only supports 8 rows", ErrInvalidArgs)
	}
	draw := rng.Draw()
	position := 0
	for i := 0; i < 8; i++ {
		if (draw>>uint(i))&1 == 1 {
			position++
		}
	}
	multiplier := plinkoMultipliers[position]
	payout := uint64(math.Floor(float64(amount) * multiplier))
	desc := fmt.Sprintf("plinko: position=%d multiplier=%.4fx", position, multiplier)
	return Result{Payout: payout, Multiplier: multiplier, Won: payout > amount, Description: desc}, nil
}

// settleMines reveals a.Picks tiles from a.Total, a.Mines of which are
// bombs, drawn without replacement from rng. Any revealed bomb is an
// instant loss; surviving all picks pays the hypergeometric fair odds times
// the house edge factor: 1/P(no bomb in Picks draws) × 0.99.
func settleMines(a *MinesArgs, amount uint64, rng Randomness) (Result, error) {
	if a == nil || a.Total == 0 || a.Mines == 0 || a.Mines >= a.Total || a.Picks == 0 || a.Picks > a.Total-a.Mines {
		return Result{}, fmt.Errorf("%w: mines board must have 0 < mines < total and 0 < picks <= safe tiles", ErrInvalidArgs)
	}

	remaining := int(a.Total)
	safeRemaining := int(a.Total - a.Mines)
	survived := true
	for i := 0; i < int(a.Picks); i++ {
		draw := int(rng.Draw()) % remaining
		if draw >= safeRemaining {
			survived = false
			break
		}
		safeRemaining--
		remaining--
	}

	probSurvive := hypergeometricSurvival(a.Total, a.Mines, a.Picks)
	multiplier := houseEdgeFactor / probSurvive

	desc := fmt.Sprintf("mines: total=%d mines=%d picks=%d survived=%v", a.Total, a.Mines, a.Picks, survived)
	if !survived {
		return Result{Payout: 0, Multiplier: multiplier, Won: false, Description: desc}, nil
	}
	payout := uint64(math.Floor(float64(amount) * multiplier))
	return Result{Payout: payout, Multiplier: multiplier, Won: true, Description: desc}, nil
}

// hypergeometricSurvival returns P(picks safe draws out of total, mines
// bombs) = C(total-mines, picks) / C(total, picks), computed via a running
// product to avoid overflowing factorials for board sizes up to 255 tiles.
func hypergeometricSurvival(total, mines, picks uint8) float64 {
	p := 1.0
	for i := 0; i < int(picks); i++ {
		safeLeft := float64(int(total-mines) - i)
		totalLeft := float64(int(total) - i)
		p *= safeLeft / totalLeft
	}
	return p
}
