// Command vaultctl is an operator CLI for the vault: read-only queries
// (balance, solvency, pending transfers) and a handful of break-glass
// mutating actions (grant a role, force a retry sweep) that talk directly
// to Postgres rather than through the running HTTP API, for use when the
// API server itself is the thing misbehaving.
package main

import (
	"fmt"
	"os"

	"github.com/evetabi/vault/cmd/vaultctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
