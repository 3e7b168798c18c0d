package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	cryptosqlite "github.com/2042Third/cryptoSQLite"
)

var (
	cfgFile string
	verbose bool
	output  string
	logger  = slog.New(slog.NewTextHandler(io.Discard, nil))
)

var rootCmd = &cobra.Command{
	Use:   "cryptosqlite",
	Short: "Inspect and maintain page-encrypted databases",
	Long: `cryptosqlite works on databases written through the cryptosqlite VFS
while they are closed: it describes keyfiles, checks keys, verifies every page
of a database, rotates the external key and dumps decrypted pages.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cryptosqlite.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format (text, yaml, json)")
	rootCmd.PersistentFlags().String("passphrase", "", "external key (or use CRYPTOSQLITE_KEY_PASSPHRASE)")
	rootCmd.PersistentFlags().String("keyfile-suffix", cryptosqlite.DefaultKeyfileSuffix, "suffix locating the keyfile next to the database")
	rootCmd.PersistentFlags().String("kdf", "argon2id", "key derivation for new wrappings (argon2id, pbkdf2, hkdf)")
	rootCmd.PersistentFlags().Uint32("kdf-iterations", 0, "KDF iterations (0 selects the default)")
	rootCmd.PersistentFlags().Uint32("kdf-memory", 0, "Argon2id memory in KiB (0 selects the default)")
	rootCmd.PersistentFlags().String("kdf-hash", "sha256", "PBKDF2 hash (sha256, sha512)")
	rootCmd.PersistentFlags().Int("workers", 0, "verification workers (0 uses every CPU)")

	bindFlagOrPanic("key.passphrase", "passphrase")
	bindFlagOrPanic("keyfile.suffix", "keyfile-suffix")
	bindFlagOrPanic("kdf.algorithm", "kdf")
	bindFlagOrPanic("kdf.iterations", "kdf-iterations")
	bindFlagOrPanic("kdf.memory", "kdf-memory")
	bindFlagOrPanic("kdf.hash", "kdf-hash")
	bindFlagOrPanic("verify.workers", "workers")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cryptosqlite")
	}

	viper.SetEnvPrefix("CRYPTOSQLITE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

// loadConfig builds the library configuration from flags, environment and
// config file
func loadConfig() (*cryptosqlite.Config, error) {
	cfg := cryptosqlite.DefaultConfig()
	cfg.Logger = logger
	cfg.KeyfileSuffix = viper.GetString("keyfile.suffix")

	// No cipher setting: every command opens an existing keyfile, whose
	// recorded suite is always used.
	algo, err := cryptosqlite.ParseKDF(viper.GetString("kdf.algorithm"))
	if err != nil {
		return nil, fmt.Errorf("kdf %q: %w", viper.GetString("kdf.algorithm"), err)
	}
	hash, err := cryptosqlite.ParseHashFunc(viper.GetString("kdf.hash"))
	if err != nil {
		return nil, err
	}
	cfg.KDF = cryptosqlite.KDFParams{
		Algorithm:  algo,
		Iterations: viper.GetUint32("kdf.iterations"),
		Memory:     viper.GetUint32("kdf.memory"),
		HashFunc:   hash,
	}
	if workers := viper.GetInt("verify.workers"); workers > 0 {
		cfg.Parallel.MaxWorkers = workers
	}
	return cfg, cfg.Validate()
}

// openDir maps a host database path to a filesystem rooted at its directory
// and the database's path inside it
func openDir(dbPath string) (*cryptosqlite.DirFS, string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, "", err
	}
	fs, err := cryptosqlite.NewDirFS(filepath.Dir(abs))
	if err != nil {
		return nil, "", err
	}
	return fs, "/" + filepath.Base(abs), nil
}

// passphrase returns the external key bound to configKey
func passphrase(configKey, flagName string) ([]byte, error) {
	key := viper.GetString(configKey)
	if key == "" {
		env := "CRYPTOSQLITE_" + strings.ToUpper(strings.ReplaceAll(configKey, ".", "_"))
		return nil, fmt.Errorf("no external key: set --%s or %s", flagName, env)
	}
	return []byte(key), nil
}

// printResult writes v in the selected output format; text falls back to YAML
// for structured values
func printResult(w io.Writer, v any) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "text":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
