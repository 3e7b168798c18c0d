package main

import (
	"encoding/hex"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	cryptosqlite "github.com/2042Third/cryptoSQLite"
)

var (
	dumpPage uint64
	dumpRaw  bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump <database>",
	Short: "Print one decrypted page",
	Long:  "Decrypt a single page of a closed database and print it as a hex dump, or raw with --raw.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().Uint64Var(&dumpPage, "page", 1, "page number, starting at 1")
	dumpCmd.Flags().BoolVar(&dumpRaw, "raw", false, "write the page bytes unformatted")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	key, err := passphrase("key.passphrase", "passphrase")
	if err != nil {
		return err
	}
	fs, name, err := openDir(args[0])
	if err != nil {
		return err
	}
	page, err := cryptosqlite.DecryptPageAt(fs, name, key, dumpPage, cfg)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(page)

	if dumpRaw {
		_, err = cmd.OutOrStdout().Write(page)
		return err
	}
	dumper := hex.Dumper(cmd.OutOrStdout())
	defer dumper.Close()
	_, err = dumper.Write(page)
	return err
}
