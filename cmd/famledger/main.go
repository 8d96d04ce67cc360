package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "famledger",
	Short: "famledger, a family ledger server",
	Long:  "famledger keeps per-member balances for a family cluster: a host provisions members, records credits and debits, arbitrates capital requests and reads analytics over the transaction log.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
