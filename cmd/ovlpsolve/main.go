package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ovlpsolve",
	Short: "Solve reference problems with overlapping Schwarz and AMG backends",
	Long: `ovlpsolve partitions a reference problem into overlapping subdomains,
runs one rank per subdomain in process and solves the stationary problem with
the configured linear solver backend.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newSolveCmd())
}
