// Package cryptosqlite provides transparent page-level encryption for an
// embedded SQL database engine by sitting between the engine and its
// virtual filesystem (VFS).
//
// # Overview
//
// CryptVFS wraps an underlying VFS. When the engine opens a main database,
// the shim attaches a crypto engine (PageCrypto) to the file: every page is
// encrypted before it reaches storage and decrypted on the way back, so the
// engine only ever sees plaintext while the disk only ever holds ciphertext.
// Rollback journals and WAL files share their database's engine; temporary
// files pass through untouched.
//
// Each database has a random data key. The key is wrapped under a key derived
// from the caller's external secret and stored in a keyfile next to the
// database (path + "-keyfile"), together with the ciphertext of page 1.
//
// # Supported Cipher Suites
//
//   - XChaCha20-Poly1305 (default): 40 reserved bytes per page
//   - AES-256-GCM: 28 reserved bytes per page
//   - ChaCha20-Poly1305: 28 reserved bytes per page
//
// The engine must be configured to leave ExtraSize reserved bytes at the end
// of every page. Those bytes hold the authentication tag and nonce.
//
// # Basic Usage
//
//	base, _ := cryptosqlite.NewDirVFS("/var/lib/app")
//	vfs, err := cryptosqlite.Init(base, nil)
//	if err != nil {
//	    panic(err)
//	}
//	defer cryptosqlite.Shutdown()
//
//	txn, err := vfs.Prepare("app.db", []byte("passphrase"))
//	if err != nil {
//	    panic(err)
//	}
//	// ... the engine opens app.db through the default VFS ...
//	txn.Finish()
//
// # Key Derivation
//
// The wrapping key is derived with Argon2id by default. PBKDF2 and HKDF are
// available; HKDF only suits external keys that are already random. The
// parameters are recorded in the keyfile, so changing the configuration never
// locks out an existing database.
//
// # Key Rotation
//
// Rekey (or RotateKeyfile for a closed database) re-wraps the data key under
// a new external key. Pages are not re-encrypted.
//
// # Security Considerations
//
// Protected Against:
//   - Reading database contents from storage without the external key
//   - Page tampering, and pages swapped between positions
//
// Not Protected Against:
//   - Database size and access patterns
//   - Loss of the keyfile, which makes the database unrecoverable
//   - Attackers with access to process memory while a database is open
package cryptosqlite
