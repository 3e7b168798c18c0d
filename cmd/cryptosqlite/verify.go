package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cryptosqlite "github.com/2042Third/cryptoSQLite"
)

var keyOnly bool

var verifyCmd = &cobra.Command{
	Use:   "verify <database>",
	Short: "Check a key and authenticate every page",
	Long: `Unwrap the data key with the external key and decrypt every page of the
database. Pages that fail authentication are listed. With --key-only only the
key is checked.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&keyOnly, "key-only", false, "only check that the key unwraps the keyfile")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	if keyOnly {
		if err := cryptosqlite.VerifyKey(fs, name, key, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "key OK")
		return nil
	}

	report, err := cryptosqlite.VerifyDatabase(fs, name, key, cfg)
	if err != nil {
		return err
	}
	if err := printResult(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d of %d pages failed authentication", len(report.FailedPages), report.Pages)
	}
	return nil
}
