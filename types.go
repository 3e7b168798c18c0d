package cryptosqlite

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/absfs/absfs"
)

// CipherSuite represents the page encryption algorithm
type CipherSuite uint8

const (
	// CipherAuto selects the default cipher (XChaCha20-Poly1305)
	CipherAuto CipherSuite = iota
	// CipherAES256GCM uses AES-256 with Galois/Counter Mode
	CipherAES256GCM
	// CipherChaCha20Poly1305 uses ChaCha20 stream cipher with Poly1305 MAC
	CipherChaCha20Poly1305
	// CipherXChaCha20Poly1305 uses ChaCha20-Poly1305 with 24-byte nonces
	CipherXChaCha20Poly1305
)

// String returns the string representation of the cipher suite
func (c CipherSuite) String() string {
	switch c {
	case CipherAuto:
		return "auto"
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	case CipherXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return "unknown"
	}
}

// ParseCipherSuite maps a name produced by String back to a suite
func ParseCipherSuite(name string) (CipherSuite, error) {
	for _, c := range []CipherSuite{CipherAuto, CipherAES256GCM, CipherChaCha20Poly1305, CipherXChaCha20Poly1305} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, ErrUnsupportedCipher
}

// KDF identifies how the wrapping key is derived from the external key
type KDF uint8

const (
	// KDFArgon2id is memory-hard and the default for passphrases
	KDFArgon2id KDF = iota
	// KDFPBKDF2 is PBKDF2 with a configurable hash
	KDFPBKDF2
	// KDFHKDF is HKDF-SHA256, for external keys that are already high entropy
	KDFHKDF
)

// String returns the string representation of the KDF
func (k KDF) String() string {
	switch k {
	case KDFArgon2id:
		return "argon2id"
	case KDFPBKDF2:
		return "pbkdf2"
	case KDFHKDF:
		return "hkdf"
	default:
		return "unknown"
	}
}

// ParseKDF maps a name produced by String back to a KDF
func ParseKDF(name string) (KDF, error) {
	for _, k := range []KDF{KDFArgon2id, KDFPBKDF2, KDFHKDF} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, ErrUnsupportedKDF
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// String returns the string representation of the hash function
func (h HashFunc) String() string {
	switch h {
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

// ParseHashFunc maps a name produced by String back to a hash function
func ParseHashFunc(name string) (HashFunc, error) {
	switch name {
	case "sha256":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	default:
		return 0, NewValidationError("hash", name, "unsupported hash function")
	}
}

// KDFParams contains parameters for wrapping key derivation
type KDFParams struct {
	Algorithm KDF

	// Argon2id
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Parallelism uint8  // Degree of parallelism

	// Iterations is the Argon2id time parameter or the PBKDF2 round count
	Iterations uint32

	// HashFunc selects the PBKDF2 hash
	HashFunc HashFunc

	// SaltSize in bytes (default 16)
	SaltSize int
}

// Limits on KDF cost parameters. Keyfiles carry their own parameters, so
// these bound the work a damaged keyfile can demand.
const (
	MaxArgon2Memory     = 1 << 22 // KiB (4 GiB)
	MaxArgon2Iterations = 64
	MaxPBKDF2Iterations = 10_000_000
	MaxSaltSize         = 64
)

// Validate checks that the parameters are complete and within the cost
// limits. Zero fields are not filled in; call it on withDefaults output.
func (p KDFParams) Validate() error {
	if p.SaltSize < 1 || p.SaltSize > MaxSaltSize {
		return fmt.Errorf("salt size %d must be between 1 and %d bytes: %w", p.SaltSize, MaxSaltSize, ErrKDFParams)
	}
	switch p.Algorithm {
	case KDFArgon2id:
		if p.Memory == 0 || p.Memory > MaxArgon2Memory {
			return fmt.Errorf("argon2id memory %d KiB must be between 1 and %d: %w", p.Memory, MaxArgon2Memory, ErrKDFParams)
		}
		if p.Iterations == 0 || p.Iterations > MaxArgon2Iterations {
			return fmt.Errorf("argon2id iterations %d must be between 1 and %d: %w", p.Iterations, MaxArgon2Iterations, ErrKDFParams)
		}
		if p.Parallelism == 0 {
			return fmt.Errorf("argon2id parallelism must be at least 1: %w", ErrKDFParams)
		}
	case KDFPBKDF2:
		if p.Iterations == 0 || p.Iterations > MaxPBKDF2Iterations {
			return fmt.Errorf("pbkdf2 iterations %d must be between 1 and %d: %w", p.Iterations, MaxPBKDF2Iterations, ErrKDFParams)
		}
		if p.HashFunc != SHA256 && p.HashFunc != SHA512 {
			return fmt.Errorf("unsupported pbkdf2 hash %v: %w", p.HashFunc, ErrKDFParams)
		}
	case KDFHKDF:
	default:
		return ErrUnsupportedKDF
	}
	return nil
}

// DefaultKDFParams returns Argon2id parameters suitable for passphrases
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algorithm:   KDFArgon2id,
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltSize:    16,
	}
}

// withDefaults fills zero fields for the selected algorithm
func (p KDFParams) withDefaults() KDFParams {
	if p.SaltSize == 0 {
		p.SaltSize = 16
	}
	switch p.Algorithm {
	case KDFArgon2id:
		if p.Memory == 0 {
			p.Memory = 64 * 1024
		}
		if p.Iterations == 0 {
			p.Iterations = 3
		}
		if p.Parallelism == 0 {
			p.Parallelism = 4
		}
	case KDFPBKDF2:
		if p.Iterations == 0 {
			p.Iterations = 600000
		}
	}
	return p
}

// AuxiliaryMode controls how journal and WAL files of an encrypted
// database are treated
type AuxiliaryMode uint8

const (
	// AuxEncrypt encrypts page images in journals and WAL files with the
	// main database's engine
	AuxEncrypt AuxiliaryMode = iota
	// AuxPassThrough writes journals and WAL files unmodified
	AuxPassThrough
)

// UnmatchedPolicy decides what happens when a journal or WAL file is opened
// and its main database is not open through the shim
type UnmatchedPolicy uint8

const (
	// UnmatchedPassThrough opens the file unencrypted and logs a warning
	UnmatchedPassThrough UnmatchedPolicy = iota
	// UnmatchedReject fails the open with a ConfigError
	UnmatchedReject
)

const (
	// DefaultVFSName is the name the shim registers under
	DefaultVFSName = "cryptosqlite"

	// DefaultKeyfileSuffix is appended to the database path to locate the keyfile
	DefaultKeyfileSuffix = "-keyfile"
)

// Config contains configuration for the encrypting VFS
type Config struct {
	// Name the VFS is registered under in the host
	Name string

	// Cipher suite used for databases created through this VFS. Existing
	// databases keep the suite recorded in their keyfile.
	Cipher CipherSuite

	// KDF derives the wrapping key from the external key
	KDF KDFParams

	// KeyfileSuffix locates the keyfile next to the database
	KeyfileSuffix string

	// Auxiliary selects journal/WAL handling
	Auxiliary AuxiliaryMode

	// UnmatchedAuxiliary handles journals whose database is not open here
	UnmatchedAuxiliary UnmatchedPolicy

	// Parallel controls VerifyDatabase's worker pool
	Parallel ParallelConfig

	// Logger receives operational events. Defaults to a discarding logger.
	Logger *slog.Logger

	// Host is the VFS table the shim installs itself into. Defaults to
	// DefaultHost().
	Host *Host

	// KeyfileFS stores keyfiles. Defaults to the underlying VFS's filesystem.
	KeyfileFS absfs.FileSystem
}

// DefaultConfig returns a configuration with every field populated
func DefaultConfig() *Config {
	return &Config{
		Name:          DefaultVFSName,
		Cipher:        CipherXChaCha20Poly1305,
		KDF:           DefaultKDFParams(),
		KeyfileSuffix: DefaultKeyfileSuffix,
		Parallel:      DefaultParallelConfig(),
		Logger:        discardLogger(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Message: "config cannot be nil", Err: ErrNilConfig}
	}
	switch c.Cipher {
	case CipherAuto, CipherAES256GCM, CipherChaCha20Poly1305, CipherXChaCha20Poly1305:
	default:
		return &ConfigError{Field: "cipher", Message: "unsupported cipher suite", Err: ErrUnsupportedCipher}
	}
	switch c.KDF.Algorithm {
	case KDFArgon2id, KDFPBKDF2, KDFHKDF:
	default:
		return &ConfigError{Field: "kdf", Message: "unsupported key derivation function", Err: ErrUnsupportedKDF}
	}
	if c.KDF.SaltSize < 0 || c.KDF.SaltSize > MaxSaltSize {
		return NewConfigError("kdf.salt_size", "salt size must be between 1 and 64 bytes")
	}
	if err := c.KDF.withDefaults().Validate(); err != nil {
		return &ConfigError{Field: "kdf", Message: err.Error(), Err: err}
	}
	if c.Auxiliary > AuxPassThrough {
		return NewConfigError("auxiliary", "unknown auxiliary mode")
	}
	if c.UnmatchedAuxiliary > UnmatchedReject {
		return NewConfigError("unmatched_auxiliary", "unknown unmatched policy")
	}
	if err := c.Parallel.Validate(); err != nil {
		return &ConfigError{Field: "parallel", Message: err.Error(), Err: err}
	}
	return nil
}

// withDefaults returns a copy with zero fields filled in
func (c *Config) withDefaults() *Config {
	out := *c
	if out.Name == "" {
		out.Name = DefaultVFSName
	}
	if out.Cipher == CipherAuto {
		out.Cipher = CipherXChaCha20Poly1305
	}
	out.KDF = out.KDF.withDefaults()
	if out.KeyfileSuffix == "" {
		out.KeyfileSuffix = DefaultKeyfileSuffix
	}
	if out.Parallel.MaxWorkers == 0 {
		out.Parallel.MaxWorkers = runtime.NumCPU()
	}
	if out.Parallel.MinPagesForParallel == 0 {
		out.Parallel.MinPagesForParallel = DefaultParallelConfig().MinPagesForParallel
	}
	if out.Logger == nil {
		out.Logger = discardLogger()
	}
	if out.Host == nil {
		out.Host = DefaultHost()
	}
	return &out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
