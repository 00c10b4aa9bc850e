package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List pending transfers stuck in flight",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := st.LoadPendingTransfers(ctx)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no pending transfers")
				return nil
			}
			for _, r := range rows {
				fmt.Printf("%-40s kind=%d amount=%-20s retries=%d last_error=%q created_at=%d\n",
					r.Principal, r.Kind, r.Amount, r.Retries, r.LastError, r.CreatedAt)
			}
			return nil
		},
	}
}
