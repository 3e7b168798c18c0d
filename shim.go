package cryptosqlite

import (
	"log/slog"
	"sync"
	"time"

	"github.com/absfs/absfs"
	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// fileSystemProvider is implemented by underlying VFSs that can expose their
// filesystem, which then also stores keyfiles
type fileSystemProvider interface {
	FileSystem() absfs.FileSystem
}

// CryptVFS is the encrypting VFS shim. It intercepts Open for main databases
// and their journals, and forwards every other operation to the underlying
// VFS unchanged.
//
// Opening an encrypted database is a three step protocol: Prepare records the
// external key for one database path, the host engine calls Open, and Finish
// forgets the key. Transactions for different paths may run concurrently.
type CryptVFS struct {
	underlying VFS
	keyfileFS  absfs.FileSystem
	config     *Config
	logger     *slog.Logger
	host       *Host

	mu        sync.Mutex
	databases map[string]*CryptFile
	pending   map[string]*OpenTxn
	installs  int
	previous  VFS
	restore   bool
}

// OpenTxn is one pending Prepare/Open/Finish sequence. It owns a private copy
// of the external key until Finish.
type OpenTxn struct {
	ID   uuid.UUID
	Path string

	vfs      *CryptVFS
	key      *memguard.LockedBuffer
	consumed bool
	opening  bool // key in use by Open outside the lock
	finished bool
}

// Finish ends the transaction, see CryptVFS.Finish
func (t *OpenTxn) Finish() error {
	return t.vfs.Finish(t)
}

// NewCryptVFS wraps underlying. The shim is not registered with the host
// until Prepare installs it.
func NewCryptVFS(underlying VFS, config *Config) (*CryptVFS, error) {
	if underlying == nil {
		return nil, NewConfigError("underlying", "underlying vfs cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	keyfileFS := config.KeyfileFS
	if keyfileFS == nil {
		p, ok := underlying.(fileSystemProvider)
		if !ok {
			return nil, NewConfigError("keyfile_fs", "underlying vfs exposes no filesystem; set KeyfileFS")
		}
		keyfileFS = p.FileSystem()
	}

	return &CryptVFS{
		underlying: underlying,
		keyfileFS:  keyfileFS,
		config:     config,
		logger:     config.Logger.With("vfs", config.Name),
		host:       config.Host,
		databases:  make(map[string]*CryptFile),
		pending:    make(map[string]*OpenTxn),
	}, nil
}

// Underlying returns the wrapped VFS
func (v *CryptVFS) Underlying() VFS {
	return v.underlying
}

// KeyfileFS returns the filesystem holding keyfiles
func (v *CryptVFS) KeyfileFS() absfs.FileSystem {
	return v.keyfileFS
}

// Config returns the effective configuration
func (v *CryptVFS) Config() *Config {
	return v.config
}

// Prepare records key as the external key for the database name and installs
// the shim as the host's default VFS. The caller keeps ownership of key; the
// transaction holds its own locked copy.
func (v *CryptVFS) Prepare(name string, key []byte) (*OpenTxn, error) {
	if len(key) == 0 {
		return nil, NewValidationError("key", 0, "external key cannot be empty")
	}
	full, err := v.underlying.FullPathname(name)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.pending[full]; ok {
		return nil, NewProtocolError("prepare", full, "a transaction is already pending for this database")
	}
	if _, ok := v.databases[full]; ok {
		return nil, NewProtocolError("prepare", full, "database is already open")
	}
	if err := v.installLocked(); err != nil {
		return nil, err
	}

	buf := memguard.NewBufferFromBytes(append([]byte(nil), key...))
	buf.Freeze()
	txn := &OpenTxn{
		ID:   uuid.New(),
		Path: full,
		vfs:  v,
		key:  buf,
	}
	v.pending[full] = txn
	v.logger.Debug("prepared", "path", full, "txn", txn.ID)
	return txn, nil
}

// Finish forgets the transaction's key and uninstalls the shim as default
// once no transaction is pending. Finishing twice, or while Open is still
// building the engine, is a ProtocolError.
func (v *CryptVFS) Finish(txn *OpenTxn) error {
	if txn == nil {
		return NewProtocolError("finish", "", "no transaction")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if txn.finished || v.pending[txn.Path] != txn {
		return NewProtocolError("finish", txn.Path, "transaction is not pending")
	}
	if txn.opening {
		return NewProtocolError("finish", txn.Path, "open is still in progress")
	}
	delete(v.pending, txn.Path)
	txn.finished = true
	txn.key.Destroy()
	v.uninstallLocked()
	v.logger.Debug("finished", "path", txn.Path, "txn", txn.ID, "opened", txn.consumed)
	return nil
}

func (v *CryptVFS) installLocked() error {
	if v.installs == 0 {
		prev := v.host.Default()
		if err := v.host.Register(v, true); err != nil {
			return err
		}
		v.previous, v.restore = prev, prev != v
	}
	v.installs++
	return nil
}

func (v *CryptVFS) uninstallLocked() {
	v.installs--
	if v.installs > 0 {
		return
	}
	if v.restore && v.host.Default() == v {
		if err := v.host.SetDefault(v.previous); err != nil {
			v.logger.Warn("previous default vfs is gone", "error", err)
			_ = v.host.SetDefault(nil)
		}
	}
	v.previous, v.restore = nil, false
}

// OpenDatabase runs Prepare, Open and Finish for one main database
func (v *CryptVFS) OpenDatabase(name string, key []byte, flags OpenFlag) (*CryptFile, error) {
	txn, err := v.Prepare(name, key)
	if err != nil {
		return nil, err
	}
	defer txn.Finish()

	f, _, err := v.Open(name, flags|OpenMainDB)
	if err != nil {
		return nil, err
	}
	return f.(*CryptFile), nil
}

func (v *CryptVFS) Name() string {
	return v.config.Name
}

// Open classifies the file by flags. Main databases get their own crypto
// engine keyed by the pending transaction; journals and WAL files share the
// engine of their open main database; everything else passes through.
func (v *CryptVFS) Open(name string, flags OpenFlag) (File, OpenFlag, error) {
	role := classifyOpen(flags)
	if name == "" {
		return v.openPassThrough(name, flags, role)
	}
	switch {
	case role == roleMainDB:
		return v.openMain(name, flags)
	case role.auxiliary():
		return v.openAuxiliary(name, flags, role)
	default:
		return v.openPassThrough(name, flags, role)
	}
}

func (v *CryptVFS) openMain(name string, flags OpenFlag) (File, OpenFlag, error) {
	full, err := v.underlying.FullPathname(name)
	if err != nil {
		return nil, 0, err
	}

	v.mu.Lock()
	txn, ok := v.pending[full]
	switch {
	case !ok:
		v.mu.Unlock()
		return nil, 0, NewProtocolError("open", full, "no pending transaction; call Prepare first")
	case txn.consumed:
		v.mu.Unlock()
		return nil, 0, NewProtocolError("open", full, "transaction already opened its database")
	}
	if _, ok := v.databases[full]; ok {
		v.mu.Unlock()
		return nil, 0, NewProtocolError("open", full, "database is already open")
	}
	// Reserve the transaction while the key is derived outside the lock
	txn.consumed = true
	txn.opening = true
	v.mu.Unlock()

	f, outFlags, exists, err := v.attachEngine(full, flags, txn)

	v.mu.Lock()
	txn.opening = false
	if txn.finished {
		// Close dropped the transaction while the engine was built
		v.mu.Unlock()
		txn.key.Destroy()
		if err == nil {
			f.Close()
		}
		return nil, 0, NewProtocolError("open", full, "vfs closed during open")
	}
	defer v.mu.Unlock()
	if err != nil {
		txn.consumed = false
		v.logger.Warn("open failed", "path", full, "txn", txn.ID, "error", err)
		return nil, 0, err
	}
	v.addDatabaseLocked(f)
	v.logger.Info("opened", "role", roleMainDB, "path", full, "txn", txn.ID,
		"cipher", f.engine.Cipher(), "created", !exists)
	return f, outFlags, nil
}

// attachEngine opens the underlying database file and builds its engine
func (v *CryptVFS) attachEngine(full string, flags OpenFlag, txn *OpenTxn) (*CryptFile, OpenFlag, bool, error) {
	base, outFlags, err := v.underlying.Open(full, flags)
	if err != nil {
		return nil, 0, false, err
	}

	exists, err := v.databaseExists(full, base)
	if err != nil {
		base.Close()
		return nil, 0, false, err
	}

	engine, err := NewPageCrypto(v.keyfileFS, full, txn.key.Bytes(), exists, v.config)
	if err != nil {
		base.Close()
		return nil, 0, false, err
	}

	return &CryptFile{
		vfs:    v,
		base:   base,
		path:   full,
		role:   roleMainDB,
		engine: engine,
		owner:  true,
	}, outFlags, exists, nil
}

// databaseExists reports whether an existing key must be loaded: the keyfile
// is present or the database already holds data
func (v *CryptVFS) databaseExists(path string, base File) (bool, error) {
	ok, err := keyfileExists(v.keyfileFS, path+v.config.KeyfileSuffix)
	if err != nil || ok {
		return ok, err
	}
	size, err := base.Size()
	if err != nil {
		return false, NewIOError("stat", path, err)
	}
	return size > 0, nil
}

func (v *CryptVFS) openAuxiliary(name string, flags OpenFlag, role fileRole) (File, OpenFlag, error) {
	if v.config.Auxiliary == AuxPassThrough {
		return v.openPassThrough(name, flags, role)
	}
	full, err := v.underlying.FullPathname(name)
	if err != nil {
		return nil, 0, err
	}

	var main *CryptFile
	if mainPath, ok := mainDatabasePath(full, role); ok {
		main = v.FindMainDatabase(mainPath)
	}
	if main == nil {
		if v.config.UnmatchedAuxiliary == UnmatchedReject {
			return nil, 0, &ConfigError{
				Field:   "unmatched_auxiliary",
				Message: role.String() + " " + full + " has no open main database",
			}
		}
		v.logger.Warn("no open main database, passing through", "role", role, "path", full)
		return v.openPassThrough(full, flags, role)
	}

	base, outFlags, err := v.underlying.Open(full, flags)
	if err != nil {
		return nil, 0, err
	}
	v.logger.Debug("opened", "role", role, "path", full, "main", main.path)
	return &CryptFile{
		vfs:    v,
		base:   base,
		path:   full,
		role:   role,
		engine: main.engine,
	}, outFlags, nil
}

func (v *CryptVFS) openPassThrough(name string, flags OpenFlag, role fileRole) (File, OpenFlag, error) {
	base, outFlags, err := v.underlying.Open(name, flags)
	if err != nil {
		return nil, 0, err
	}
	v.logger.Debug("opened", "role", role, "path", name, "encrypted", false)
	return &CryptFile{vfs: v, base: base, path: name, role: role}, outFlags, nil
}

// FindMainDatabase returns the open main database at path, or nil
func (v *CryptVFS) FindMainDatabase(path string) *CryptFile {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.databases[path]
}

func (v *CryptVFS) addDatabaseLocked(f *CryptFile) {
	v.databases[f.path] = f
}

// RemoveDatabase drops f from the open database registry
func (v *CryptVFS) RemoveDatabase(f *CryptFile) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.databases[f.path] == f {
		delete(v.databases, f.path)
	}
}

// OpenDatabases lists the paths of open main databases
func (v *CryptVFS) OpenDatabases() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	paths := make([]string, 0, len(v.databases))
	for p := range v.databases {
		paths = append(paths, p)
	}
	return paths
}

// Rekey wraps the data key of the open database name under newKey
func (v *CryptVFS) Rekey(name string, newKey []byte) error {
	full, err := v.underlying.FullPathname(name)
	if err != nil {
		return err
	}
	f := v.FindMainDatabase(full)
	if f == nil {
		return NewProtocolError("rekey", full, "database is not open")
	}
	f.engine.Lock()
	defer f.engine.Unlock()
	return f.engine.Rekey(newKey)
}

// Close closes every open main database and drops pending transactions
func (v *CryptVFS) Close() error {
	v.mu.Lock()
	files := make([]*CryptFile, 0, len(v.databases))
	for _, f := range v.databases {
		files = append(files, f)
	}
	for path, txn := range v.pending {
		txn.finished = true
		if !txn.opening {
			txn.key.Destroy()
		}
		delete(v.pending, path)
		v.uninstallLocked()
	}
	v.mu.Unlock()

	var firstErr error
	for _, f := range files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (v *CryptVFS) Delete(name string, syncDir bool) error {
	return v.underlying.Delete(name, syncDir)
}

func (v *CryptVFS) Access(name string, flags AccessFlag) (bool, error) {
	return v.underlying.Access(name, flags)
}

func (v *CryptVFS) FullPathname(name string) (string, error) {
	return v.underlying.FullPathname(name)
}

func (v *CryptVFS) DlOpen(filename string) (uintptr, error) {
	return v.underlying.DlOpen(filename)
}

func (v *CryptVFS) DlError() string {
	return v.underlying.DlError()
}

func (v *CryptVFS) DlSym(handle uintptr, symbol string) (uintptr, error) {
	return v.underlying.DlSym(handle, symbol)
}

func (v *CryptVFS) DlClose(handle uintptr) error {
	return v.underlying.DlClose(handle)
}

func (v *CryptVFS) Randomness(p []byte) int {
	return v.underlying.Randomness(p)
}

func (v *CryptVFS) Sleep(d time.Duration) time.Duration {
	return v.underlying.Sleep(d)
}

func (v *CryptVFS) CurrentTime() (float64, error) {
	return v.underlying.CurrentTime()
}

func (v *CryptVFS) CurrentTimeInt64() (int64, error) {
	return v.underlying.CurrentTimeInt64()
}

func (v *CryptVFS) GetLastError() (int, string) {
	return v.underlying.GetLastError()
}

func (v *CryptVFS) SetSystemCall(name string, fn uintptr) error {
	return v.underlying.SetSystemCall(name, fn)
}

func (v *CryptVFS) GetSystemCall(name string) uintptr {
	return v.underlying.GetSystemCall(name)
}

func (v *CryptVFS) NextSystemCall(name string) string {
	return v.underlying.NextSystemCall(name)
}
