package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"
)

func newSolvencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solvency",
		Short: "Check the persisted solvency invariant (sum of balances + pool reserve <= cached external balance)",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			accounts, err := st.LoadAccounts(ctx)
			if err != nil {
				return err
			}
			userTotal := big.NewInt(0)
			for _, a := range accounts {
				n, ok := new(big.Int).SetString(a.Balance, 10)
				if !ok {
					return fmt.Errorf("malformed balance for %s: %q", a.Principal, a.Balance)
				}
				userTotal.Add(userTotal, n)
			}

			poolRow, err := st.LoadPoolState(ctx)
			reserve := big.NewInt(0)
			if err == nil {
				n, ok := new(big.Int).SetString(poolRow.Reserve, 10)
				if !ok {
					return fmt.Errorf("malformed pool reserve: %q", poolRow.Reserve)
				}
				reserve = n
			}

			liability := new(big.Int).Add(userTotal, reserve)

			balance, refreshedAt, cerr := st.LoadCachedBalance(ctx)
			fmt.Printf("user_balances_total: %s e8s\n", userTotal.String())
			fmt.Printf("pool_reserve:        %s e8s\n", reserve.String())
			fmt.Printf("total_liability:     %s e8s\n", liability.String())
			if cerr != nil {
				fmt.Println("cached_external_balance: unavailable (never refreshed)")
				return nil
			}
			fmt.Printf("cached_external_balance: %d e8s (refreshed %s)\n", balance, refreshedAt.Format(time.RFC3339))

			external := new(big.Int).SetUint64(balance)
			if external.Cmp(liability) < 0 {
				fmt.Println("SOLVENCY CHECK FAILED: external balance is less than total liability")
				c.SilenceUsage = true
				return fmt.Errorf("insolvent by %s e8s", new(big.Int).Sub(liability, external).String())
			}
			fmt.Println("solvency check passed")
			return nil
		},
	}
}
