package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cryptosqlite "github.com/2042Third/cryptoSQLite"
)

var rekeyCmd = &cobra.Command{
	Use:   "rekey <database>",
	Short: "Rotate the external key of a closed database",
	Long: `Re-wrap the database's data key under a new external key. Only the keyfile
is rewritten; pages keep their ciphertext. The new wrapping uses the configured
KDF settings.`,
	Args: cobra.ExactArgs(1),
	RunE: runRekey,
}

func init() {
	rekeyCmd.Flags().String("new-passphrase", "", "new external key (or use CRYPTOSQLITE_KEY_NEW_PASSPHRASE)")
	if err := viper.BindPFlag("key.new_passphrase", rekeyCmd.Flags().Lookup("new-passphrase")); err != nil {
		panic(fmt.Sprintf("failed to bind new-passphrase flag: %v", err))
	}
	rootCmd.AddCommand(rekeyCmd)
}

func runRekey(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	oldKey, err := passphrase("key.passphrase", "passphrase")
	if err != nil {
		return err
	}
	newKey, err := passphrase("key.new_passphrase", "new-passphrase")
	if err != nil {
		return err
	}
	fs, name, err := openDir(args[0])
	if err != nil {
		return err
	}
	if err := cryptosqlite.RotateKeyfile(fs, name, oldKey, newKey, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rekeyed %s\n", args[0])
	return nil
}
