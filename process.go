package cryptosqlite

import "sync"

var (
	processMu  sync.Mutex
	processVFS *CryptVFS
)

// Init creates the process-wide encrypting VFS over underlying and registers
// it with the configured host. Call it once at startup, before any Prepare.
func Init(underlying VFS, config *Config) (*CryptVFS, error) {
	processMu.Lock()
	defer processMu.Unlock()

	if processVFS != nil {
		return nil, NewProtocolError("init", "", "already initialized")
	}
	v, err := NewCryptVFS(underlying, config)
	if err != nil {
		return nil, err
	}
	if err := v.host.Register(v, false); err != nil {
		return nil, err
	}
	processVFS = v
	v.logger.Info("initialized", "cipher", v.config.Cipher, "kdf", v.config.KDF.Algorithm)
	return v, nil
}

// Instance returns the VFS created by Init, or nil
func Instance() *CryptVFS {
	processMu.Lock()
	defer processMu.Unlock()
	return processVFS
}

// Shutdown closes every open database, unregisters the VFS from its host and
// forgets the instance. Call it after all connections are closed.
func Shutdown() error {
	processMu.Lock()
	defer processMu.Unlock()

	v := processVFS
	if v == nil {
		return NewProtocolError("shutdown", "", "not initialized")
	}
	closeErr := v.Close()
	if err := v.host.Unregister(v); err != nil && closeErr == nil {
		closeErr = err
	}
	processVFS = nil
	v.logger.Info("shut down")
	return closeErr
}
