package cryptosqlite

import (
	"github.com/absfs/absfs"
)

// RotateKeyfile re-wraps the data key of the closed database at dbPath from
// oldKey to newKey. Only the keyfile changes; page ciphertext stays valid.
// The new wrapping uses config's KDF settings.
func RotateKeyfile(fs absfs.FileSystem, dbPath string, oldKey, newKey []byte, config *Config) error {
	engine, err := NewPageCrypto(fs, dbPath, oldKey, true, config)
	if err != nil {
		return err
	}
	defer engine.Close()
	return engine.Rekey(newKey)
}

// VerifyKey checks that key unwraps the keyfile of the database at dbPath.
// A wrong key yields an AuthenticationError.
func VerifyKey(fs absfs.FileSystem, dbPath string, key []byte, config *Config) error {
	engine, err := NewPageCrypto(fs, dbPath, key, true, config)
	if err != nil {
		return err
	}
	engine.Close()
	return nil
}

// KeyfileInfo describes a keyfile without revealing key material
type KeyfileInfo struct {
	Path            string `yaml:"path" json:"path"`
	EnvelopeVersion uint8  `yaml:"envelope_version" json:"envelope_version"`
	Cipher          string `yaml:"cipher" json:"cipher"`
	ExtraSize       int    `yaml:"reserved_bytes" json:"reserved_bytes"`
	KDF             string `yaml:"kdf" json:"kdf"`
	Hash            string `yaml:"hash,omitempty" json:"hash,omitempty"`
	Iterations      uint32 `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	MemoryKiB       uint32 `yaml:"memory_kib,omitempty" json:"memory_kib,omitempty"`
	Parallelism     uint8  `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
	SaltSize        int    `yaml:"salt_size" json:"salt_size"`
	WrappedKeySize  int    `yaml:"wrapped_key_size" json:"wrapped_key_size"`
	FirstPageSize   int    `yaml:"first_page_size" json:"first_page_size"`
}

// InspectKeyfile reads the keyfile of the database at dbPath. No key is
// needed.
func InspectKeyfile(fs absfs.FileSystem, dbPath string, config *Config) (*KeyfileInfo, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	path := dbPath + config.KeyfileSuffix
	rec, err := readKeyfile(fs, path)
	if err != nil {
		return nil, err
	}
	var env keyEnvelope
	if err := env.UnmarshalBinary(rec.WrappedKey); err != nil {
		return nil, NewCorruptionError(path, 0, err.Error())
	}
	dc, err := NewDataCipher(env.Cipher)
	if err != nil {
		return nil, NewCorruptionError(path, 0, err.Error())
	}

	info := &KeyfileInfo{
		Path:            path,
		EnvelopeVersion: env.Version,
		Cipher:          env.Cipher.String(),
		ExtraSize:       dc.ExtraSize(),
		KDF:             env.KDF.String(),
		SaltSize:        len(env.Salt),
		WrappedKeySize:  len(rec.WrappedKey),
		FirstPageSize:   len(rec.FirstPage),
	}
	switch env.KDF {
	case KDFArgon2id:
		info.Iterations = env.Iterations
		info.MemoryKiB = env.Memory
		info.Parallelism = env.Parallelism
	case KDFPBKDF2:
		info.Hash = env.HashFunc.String()
		info.Iterations = env.Iterations
	case KDFHKDF:
		info.Hash = SHA256.String()
	}
	return info, nil
}
