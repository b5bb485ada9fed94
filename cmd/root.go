package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tap-payments",
	Short: "Tap payments microservice",
	Long:  "A tap-to-pay microservice: card authorization, ledger settlement, status fan-out, and merchant webhooks.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
