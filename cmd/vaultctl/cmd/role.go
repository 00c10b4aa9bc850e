package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/vault/internal/store"
	"github.com/spf13/cobra"
)

func newRoleCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "role",
		Short: "Inspect or grant principal roles",
	}
	root.AddCommand(newRoleGetCmd(), newRoleSetCmd())
	return root
}

func newRoleGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <principal>",
		Short: "Show a principal's granted role",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			role, err := st.GetRole(ctx, args[0])
			if err != nil {
				if err == store.ErrNotFound {
					fmt.Printf("%s has no granted role (default applies)\n", args[0])
					return nil
				}
				return err
			}
			fmt.Println(role)
			return nil
		},
	}
}

func newRoleSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <principal> <role>",
		Short: "Grant principal a role (e.g. risk, finance, admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := st.SetRole(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("granted %s to %s\n", args[1], args[0])
			return nil
		},
	}
}
