package main

import (
	"github.com/spf13/cobra"

	cryptosqlite "github.com/2042Third/cryptoSQLite"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <database>",
	Short: "Describe a database's keyfile",
	Long:  "Print the cipher, key derivation parameters and section sizes recorded in the keyfile. No key is needed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fs, name, err := openDir(args[0])
	if err != nil {
		return err
	}
	info, err := cryptosqlite.InspectKeyfile(fs, name, cfg)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), info)
}
