package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/store"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// NewRootCmd builds the vaultctl command tree. Persistent flags are bound
// through viper so DATABASE_DSN (and friends) can come from the environment,
// a flag, or a config file, the same precedence the teacher's own
// internal/config.MustLoad applies by reading os.Getenv directly — vaultctl
// additionally accepts --config since it's a standalone operator tool run
// outside the server's deployment environment.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operator CLI for the custodial wagering vault",
		Long:  "vaultctl inspects and repairs vault state by talking directly to Postgres, for use alongside or instead of the backoffice HTTP API.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment variables only)")
	root.PersistentFlags().String("dsn", "", "Postgres DSN (overrides DATABASE_DSN)")
	_ = viper.BindPFlag("dsn", root.PersistentFlags().Lookup("dsn"))

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			_ = viper.ReadInConfig()
		}
		viper.AutomaticEnv()
	})

	root.AddCommand(
		newBalanceCmd(),
		newSolvencyCmd(),
		newPendingCmd(),
		newRoleCmd(),
		newRetryCmd(),
	)
	return root
}

// openStore connects to Postgres using the same precedence vaultctl's flags
// establish: --dsn, then DATABASE_DSN, then internal/config.MustLoad's own
// default resolution.
func openStore(ctx context.Context) (*store.Store, *sqlx.DB, error) {
	dsn := viper.GetString("dsn")
	if dsn == "" {
		cfg := config.MustLoad()
		dsn = cfg.DB.DSN
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("no DSN configured: pass --dsn or set DATABASE_DSN")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	return store.New(db), db, nil
}
