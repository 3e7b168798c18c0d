package cryptosqlite

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"sync"

	"github.com/absfs/absfs"
	"github.com/awnumar/memguard"
)

// ParallelConfig controls the worker pool VerifyDatabase uses
type ParallelConfig struct {
	// Enabled enables parallel page verification
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinPagesForParallel is the minimum number of pages to use parallel processing
	// Below this threshold, pages are verified sequentially
	// Defaults to 64
	MinPagesForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinPagesForParallel < 1 {
		return errors.New("parallel min pages threshold must be at least 1")
	}
	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinPagesForParallel: 64,
	}
}

// VerifyReport is the result of VerifyDatabase
type VerifyReport struct {
	Path        string   `yaml:"path" json:"path"`
	PageSize    int      `yaml:"page_size" json:"page_size"`
	Pages       int      `yaml:"pages" json:"pages"`
	FailedPages []uint64 `yaml:"failed_pages,omitempty" json:"failed_pages,omitempty"`
}

// OK reports whether every page authenticated
func (r *VerifyReport) OK() bool {
	return len(r.FailedPages) == 0
}

// pageJob is one page to authenticate
type pageJob struct {
	pageNo uint64
	data   []byte
}

// VerifyDatabase decrypts every page of the closed database at dbPath and
// reports the pages that fail authentication. Page size comes from the
// page-1 cache in the keyfile.
func VerifyDatabase(fs absfs.FileSystem, dbPath string, key []byte, config *Config) (*VerifyReport, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	engine, err := NewPageCrypto(fs, dbPath, key, true, config)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	report := &VerifyReport{Path: dbPath, PageSize: engine.PageSize()}
	f, err := fs.Open(dbPath)
	if err != nil {
		return nil, NewIOError("open", dbPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewIOError("stat", dbPath, err)
	}
	if info.Size() == 0 {
		return report, nil
	}
	pageSize := report.PageSize
	if pageSize == 0 {
		return nil, NewCorruptionError(dbPath, 1, "keyfile has no page-1 cache; page size unknown")
	}
	if info.Size()%int64(pageSize) != 0 {
		return nil, NewCorruptionError(dbPath, uint64(info.Size()/int64(pageSize))+1, "database ends inside a page")
	}

	report.Pages = int(info.Size() / int64(pageSize))
	jobs := make([]pageJob, report.Pages)
	for i := range jobs {
		buf := make([]byte, pageSize)
		if _, err := f.ReadAt(buf, int64(i)*int64(pageSize)); err != nil && !errors.Is(err, io.EOF) {
			return nil, &IOError{Operation: "read", Path: dbPath, Offset: int64(i) * int64(pageSize), Message: err.Error(), Err: err}
		}
		jobs[i] = pageJob{pageNo: uint64(i) + 1, data: buf}
	}

	failed, err := verifyPages(engine, jobs, config.Parallel)
	if err != nil {
		return nil, err
	}
	slices.Sort(failed)
	report.FailedPages = failed
	config.Logger.Info("database verified", "path", dbPath, "pages", report.Pages, "failed", len(failed))
	return report, nil
}

// verifyPages authenticates jobs with the engine's cipher and key. Each worker
// uses its own output buffer so the engine's buffers are never shared.
func verifyPages(engine *PageCrypto, jobs []pageJob, pc ParallelConfig) ([]uint64, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if engine.key == nil {
		return nil, ErrClosed
	}
	dc := engine.cipher
	key := engine.key.Bytes()

	numWorkers := pc.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}
	if !pc.Enabled || len(jobs) < pc.MinPagesForParallel {
		numWorkers = 1
	}

	var (
		mu     sync.Mutex
		failed []uint64
		wg     sync.WaitGroup
	)
	jobChan := make(chan int, len(jobs))
	errChan := make(chan error, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					select {
					case errChan <- fmt.Errorf("panic in verification worker: %v", r):
					default:
					}
				}
			}()
			out := make([]byte, len(jobs[0].data))
			defer memguard.WipeBytes(out)
			for idx := range jobChan {
				job := jobs[idx]
				if err := dc.Decrypt(job.pageNo, job.data, out, key); err != nil {
					if !errors.Is(err, ErrAuthFailed) {
						select {
						case errChan <- err:
						default:
						}
						return
					}
					mu.Lock()
					failed = append(failed, job.pageNo)
					mu.Unlock()
				}
			}
		}()
	}

	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return nil, err
	default:
		return failed, nil
	}
}

// DecryptPageAt returns the plaintext of page pageNo (1-based) of the closed
// database at dbPath
func DecryptPageAt(fs absfs.FileSystem, dbPath string, key []byte, pageNo uint64, config *Config) ([]byte, error) {
	if pageNo == 0 {
		return nil, NewValidationError("page", pageNo, "page numbers start at 1")
	}
	engine, err := NewPageCrypto(fs, dbPath, key, true, config)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	pageSize := engine.PageSize()
	if pageSize == 0 {
		return nil, NewCorruptionError(dbPath, pageNo, "keyfile has no page-1 cache; page size unknown")
	}

	f, err := fs.OpenFile(dbPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, NewIOError("open", dbPath, err)
	}
	defer f.Close()

	page := make([]byte, pageSize)
	off := int64(pageNo-1) * int64(pageSize)
	n, err := f.ReadAt(page, off)
	if n < pageSize {
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			return nil, &IOError{Operation: "read", Path: dbPath, Offset: off, Message: "page beyond end of database", Err: io.EOF}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &IOError{Operation: "read", Path: dbPath, Offset: off, Message: err.Error(), Err: err}
		}
		return nil, NewCorruptionError(dbPath, pageNo, "short read inside page")
	}
	if err := engine.DecryptPage(page, pageSize, pageNo); err != nil {
		return nil, err
	}
	return page, nil
}
