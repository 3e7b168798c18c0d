package cryptosqlite

import (
	"crypto/rand"
	"fmt"
	"testing"
)

var benchPageSizes = []int{512, 4096, 65536}

// Benchmark page encryption throughput per cipher suite
func BenchmarkEncryptPage(b *testing.B) {
	for _, suite := range allSuites {
		for _, size := range benchPageSizes {
			b.Run(fmt.Sprintf("%s/%s", suite, formatSize(size)), func(b *testing.B) {
				benchmarkPages(b, suite, size, false)
			})
		}
	}
}

// Benchmark page decryption throughput per cipher suite
func BenchmarkDecryptPage(b *testing.B) {
	for _, suite := range allSuites {
		for _, size := range benchPageSizes {
			b.Run(fmt.Sprintf("%s/%s", suite, formatSize(size)), func(b *testing.B) {
				benchmarkPages(b, suite, size, true)
			})
		}
	}
}

func benchmarkPages(b *testing.B, suite CipherSuite, size int, decrypt bool) {
	dc, err := NewDataCipher(suite)
	if err != nil {
		b.Fatalf("failed to create cipher: %v", err)
	}
	key := make([]byte, dc.KeySize())
	if err := dc.GenerateKey(key); err != nil {
		b.Fatalf("failed to generate key: %v", err)
	}

	page := make([]byte, size)
	if _, err := rand.Read(page); err != nil {
		b.Fatalf("failed to generate test data: %v", err)
	}
	clear(page[size-dc.ExtraSize():])
	out := make([]byte, size)
	if err := dc.Encrypt(2, page, out, key); err != nil {
		b.Fatalf("encryption failed: %v", err)
	}
	ct := append([]byte(nil), out...)

	b.SetBytes(int64(size))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if decrypt {
			err = dc.Decrypt(2, ct, out, key)
		} else {
			err = dc.Encrypt(2, page, out, key)
		}
		if err != nil {
			b.Fatalf("page transform failed: %v", err)
		}
	}
}

// Benchmark wrapping key derivation, the cost paid once per open
func BenchmarkDeriveWrappingKey(b *testing.B) {
	salt := make([]byte, 16)
	params := map[string]KDFParams{
		"argon2id-default": DefaultKDFParams(),
		"pbkdf2-default":   KDFParams{Algorithm: KDFPBKDF2, HashFunc: SHA256}.withDefaults(),
		"hkdf":             {Algorithm: KDFHKDF},
	}
	for name, p := range params {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := deriveWrappingKey([]byte("passphrase"), salt, p); err != nil {
					b.Fatalf("derivation failed: %v", err)
				}
			}
		})
	}
}

// Benchmark a whole-database verification, sequential versus parallel
func BenchmarkVerifyDatabase(b *testing.B) {
	base, err := NewDirVFS(b.TempDir())
	if err != nil {
		b.Fatalf("failed to create vfs: %v", err)
	}
	cfg := DefaultConfig()
	cfg.KDF = testKDF
	cfg.Host = NewHost()
	v, err := NewCryptVFS(base, cfg)
	if err != nil {
		b.Fatalf("failed to create shim: %v", err)
	}
	defer v.Close()

	f, err := v.OpenDatabase("bench.db", []byte("secret"), OpenMainDB|OpenReadWrite|OpenCreate)
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}
	page := make([]byte, 4096)
	for i := 0; i < 1024; i++ {
		if _, err := f.WriteAt(page, int64(i)*4096); err != nil {
			b.Fatalf("failed to write page: %v", err)
		}
	}
	f.Close()

	modes := map[string]ParallelConfig{
		"sequential": {Enabled: false},
		"parallel":   DefaultParallelConfig(),
	}
	for name, pc := range modes {
		b.Run(name, func(b *testing.B) {
			cfg.Parallel = pc
			b.SetBytes(1024 * 4096)
			for i := 0; i < b.N; i++ {
				report, err := VerifyDatabase(base.FileSystem(), "/bench.db", []byte("secret"), cfg)
				if err != nil || !report.OK() {
					b.Fatalf("verification failed: %v", err)
				}
			}
		})
	}
}

func formatSize(size int) string {
	if size >= 1024 {
		return fmt.Sprintf("%dKB", size/1024)
	}
	return fmt.Sprintf("%dB", size)
}
