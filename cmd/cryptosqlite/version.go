package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	cryptosqlite "github.com/2042Third/cryptoSQLite"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cryptosqlite %s (keyfile envelope v%d)\n", version, cryptosqlite.EnvelopeVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
