package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/vault/internal/store"
	"github.com/spf13/cobra"
)

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <principal>",
		Short: "Show a principal's persisted account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			row, err := st.LoadAccount(ctx, args[0])
			if err != nil {
				if err == store.ErrNotFound {
					fmt.Printf("no account on record for %s\n", args[0])
					return nil
				}
				return err
			}

			fmt.Printf("principal:        %s\n", row.Principal)
			fmt.Printf("balance:          %s e8s\n", row.Balance)
			fmt.Printf("total_deposited:  %s e8s\n", row.TotalDeposited)
			fmt.Printf("total_withdrawn:  %s e8s\n", row.TotalWithdrawn)
			fmt.Printf("total_wagered:    %s e8s\n", row.TotalWagered)
			fmt.Printf("locked:           %v\n", row.Locked)
			fmt.Printf("last_activity:    %s\n", row.LastActivity.Format(time.RFC3339))
			return nil
		},
	}
}
