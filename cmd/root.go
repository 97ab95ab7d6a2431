package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dHammer/cmd/run"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dhammer",
		Short: "concurrent storage load generator",
		Long: fmt.Sprintf(`dHammer (v%s)

A load generator that hammers a storage backend with many concurrent
inserting workers, periodically prunes old records and reports workers
that stopped making progress.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dHammer",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dHammer v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(run.RunCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
