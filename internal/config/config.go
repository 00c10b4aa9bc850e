// Package config provides application configuration loaded from environment
// variables. Use the package-level Get() function to obtain the singleton
// Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	AdminPort            string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	AdminAllowedIPs      string        // comma-separated IPs; "" = allow all
}

// DBConfig holds PostgreSQL connection settings for the persisted-state
// layout (spec.md §6): audit log, user balances, share ledger, pool state,
// pending-transfer map, cached external balance, config.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT signing settings used to authenticate the principal
// behind each operator HTTP call.
type JWTConfig struct {
	AccessSecret  string        // must be set
	RefreshSecret string        // must be set
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 720h (30 days)
}

// LedgerConfig holds the economic constants governing deposits, withdrawals,
// and bets (spec.md §6). Centralizing these once here, rather than per-game
// as the source repo did, resolves the Open Question in spec.md §9 about
// MAX_WITHDRAWAL/MAX_PAYOUT_PERCENT/MAX_RETRIES varying across backends.
type LedgerConfig struct {
	MinDeposit          uint64 // e8s
	MinWithdrawal       uint64 // e8s
	MaxWithdrawal       uint64 // e8s
	MinBet              uint64 // e8s
	MaxBet              uint64 // e8s
	MaxPayoutBps        uint64 // out of 10_000; default 1_000 = 10%
	MinOperatingBalance uint64 // e8s; pool must hold at least this to accept bets
	TransferFee         uint64 // e8s; external ledger's flat per-transfer fee
}

// LedgerEndpointConfig points the real ledgerclient.HTTPClient at the
// ICRC-1/ICRC-2 ledger canister's HTTP gateway (spec.md §6).
type LedgerEndpointConfig struct {
	CanisterURL    string        // base URL, e.g. https://icp0.io/api/v2/canister/<id>
	FetchTimeout   time.Duration // default 10s
	VaultOwner     string        // this vault's own Account.Owner on the external ledger
	VaultSubnet    string        // subaccount hex, optional
}

// TransferConfig governs the pending-transfer retry sweep (spec.md §4.5).
type TransferConfig struct {
	MaxRetries    int
	BatchSize     int
	RetryInterval time.Duration // default 5m
}

// ReconcileConfig governs the balance-cache refresh and fee-forwarding
// sweeps (spec.md §4.6).
type ReconcileConfig struct {
	RefreshInterval          time.Duration // default 1h
	SweepInterval            time.Duration // default 24h
	MaxStaleness             time.Duration // is_cache_stale threshold
	MaxReconciliationPercent float64       // default 0.10 — cap per sweep, fraction of cached balance
	ReconciliationThreshold  uint64        // e8s; minimum pending fees before a sweep forwards anything
	TreasuryPrincipal        string
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWT       JWTConfig
	Ledger    LedgerConfig
	LedgerEndpoint LedgerEndpointConfig
	Transfer  TransferConfig
	Reconcile ReconcileConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and
// valid. Returns every validation error encountered, joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be set"))
	}

	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Ledger.MinBet == 0 || c.Ledger.MinBet > c.Ledger.MaxBet {
		errs = append(errs, fmt.Errorf(
			"LEDGER_MIN_BET must be positive and <= LEDGER_MAX_BET, got min=%d max=%d",
			c.Ledger.MinBet, c.Ledger.MaxBet,
		))
	}
	if c.Ledger.MaxPayoutBps == 0 || c.Ledger.MaxPayoutBps > 10_000 {
		errs = append(errs, fmt.Errorf(
			"LEDGER_MAX_PAYOUT_BPS must be in (0, 10000], got %d", c.Ledger.MaxPayoutBps,
		))
	}
	if c.Reconcile.MaxReconciliationPercent <= 0 || c.Reconcile.MaxReconciliationPercent > 1 {
		errs = append(errs, fmt.Errorf(
			"RECONCILE_MAX_PERCENT must be in (0, 1], got %.4f", c.Reconcile.MaxReconciliationPercent,
		))
	}
	if c.Transfer.MaxRetries <= 0 {
		errs = append(errs, errors.New("TRANSFER_MAX_RETRIES must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment
// variables. Panics if loading fails — call this early in main() to catch
// misconfigurations at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:            getEnv("SERVER_PORT", "8080"),
		AdminPort:       getEnv("ADMIN_PORT", "8081"),
		Env:             getEnv("ENVIRONMENT", "development"),
		ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		AdminAllowedIPs: getEnv("ADMIN_ALLOWED_IPS", ""),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "vault"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AccessTTL:     getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    getDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
	}

	// ── Ledger economics ──────────────────────────────────────────────────────
	minDeposit, err := getUint64("LEDGER_MIN_DEPOSIT", 1)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MIN_DEPOSIT: %w", err)
	}
	minWithdraw, err := getUint64("LEDGER_MIN_WITHDRAWAL", 1)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MIN_WITHDRAWAL: %w", err)
	}
	maxWithdraw, err := getUint64("LEDGER_MAX_WITHDRAWAL", 1_000)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MAX_WITHDRAWAL: %w", err)
	}
	minBet, err := getUint64("LEDGER_MIN_BET", 1)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MIN_BET: %w", err)
	}
	maxBet, err := getUint64("LEDGER_MAX_BET", 100)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MAX_BET: %w", err)
	}
	maxPayoutBps, err := getUint64("LEDGER_MAX_PAYOUT_BPS", 1_000)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MAX_PAYOUT_BPS: %w", err)
	}
	minOperating, err := getUint64("LEDGER_MIN_OPERATING_BALANCE", 1_000_000_000)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MIN_OPERATING_BALANCE: %w", err)
	}
	transferFee, err := getUint64("LEDGER_TRANSFER_FEE", 10_000)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_TRANSFER_FEE: %w", err)
	}

	cfg.Ledger = LedgerConfig{
		MinDeposit:          minDeposit,
		MinWithdrawal:       minWithdraw,
		MaxWithdrawal:       maxWithdraw,
		MinBet:              minBet,
		MaxBet:              maxBet,
		MaxPayoutBps:        maxPayoutBps,
		MinOperatingBalance: minOperating,
		TransferFee:         transferFee,
	}

	// ── Ledger endpoint ───────────────────────────────────────────────────────
	cfg.LedgerEndpoint = LedgerEndpointConfig{
		CanisterURL:  getEnv("LEDGER_CANISTER_URL", "https://icp0.io/api/v2/canister/ryjl3-tyaaa-aaaaa-aaaba-cai"),
		FetchTimeout: getDuration("LEDGER_FETCH_TIMEOUT", 10*time.Second),
		VaultOwner:   getEnv("LEDGER_VAULT_OWNER", ""),
		VaultSubnet:  getEnv("LEDGER_VAULT_SUBACCOUNT", ""),
	}

	// ── Pending-transfer retry ────────────────────────────────────────────────
	maxRetries, err := getInt("TRANSFER_MAX_RETRIES", 10)
	if err != nil {
		return nil, fmt.Errorf("TRANSFER_MAX_RETRIES: %w", err)
	}
	batchSize, err := getInt("TRANSFER_BATCH_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("TRANSFER_BATCH_SIZE: %w", err)
	}
	cfg.Transfer = TransferConfig{
		MaxRetries:    maxRetries,
		BatchSize:     batchSize,
		RetryInterval: getDuration("TRANSFER_RETRY_INTERVAL", 5*time.Minute),
	}

	// ── Reconciliation ────────────────────────────────────────────────────────
	maxReconcilePercent, err := getFloat("RECONCILE_MAX_PERCENT", 0.10)
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_MAX_PERCENT: %w", err)
	}
	reconcileThreshold, err := getUint64("RECONCILE_THRESHOLD", 100_000_000)
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_THRESHOLD: %w", err)
	}
	cfg.Reconcile = ReconcileConfig{
		RefreshInterval:          getDuration("RECONCILE_REFRESH_INTERVAL", time.Hour),
		SweepInterval:            getDuration("RECONCILE_SWEEP_INTERVAL", 24*time.Hour),
		MaxStaleness:             getDuration("RECONCILE_MAX_STALENESS", 2*time.Hour),
		MaxReconciliationPercent: maxReconcilePercent,
		ReconciliationThreshold:  reconcileThreshold,
		TreasuryPrincipal:        getEnv("RECONCILE_TREASURY_PRINCIPAL", ""),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getUint64(key string, defaultVal uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid uint64 %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
