// Package hotreload watches the core-mask file on disk and pushes a
// changed mask into the datapath root, driving the worker fleet's
// RELOADING transition without a process restart. Grounded on the
// teacher's pkg/hotreload/config_reloader.go: same fsnotify watcher,
// debounce timer, and periodic hash-comparison fallback, narrowed from
// a whole-config-tree reloader down to a single watched file.
package hotreload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
)

// Config configures the watcher.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	WatchInterval    time.Duration `yaml:"watch_interval"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// Stats reports the watcher's reload history.
type Stats struct {
	TotalReloads      int64     `json:"total_reloads"`
	SuccessfulReloads int64     `json:"successful_reloads"`
	FailedReloads     int64     `json:"failed_reloads"`
	LastReloadTime    time.Time `json:"last_reload_time"`
	LastSuccessTime   time.Time `json:"last_success_time"`
	LastError         string    `json:"last_error,omitempty"`
	CurrentMask       string    `json:"current_mask"`
	IsWatching        bool      `json:"is_watching"`
}

// SetMaskFunc applies a newly read core mask to the datapath root. It is
// satisfied by (*internal/datapath.Datapath).SetCoreMask.
type SetMaskFunc func(mask string) error

// Watcher watches maskFile for content changes and calls setMask whenever
// the content differs from what was last applied.
type Watcher struct {
	config   Config
	maskFile string
	setMask  SetMaskFunc
	logger   *logrus.Logger

	watcher     *fsnotify.Watcher
	currentHash string

	statsMu sync.Mutex
	stats   Stats

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New builds a watcher for maskFile. If config.Enabled is false, the
// returned watcher's Start is a no-op, mirroring the teacher's
// disabled-reloader short-circuit.
func New(config Config, maskFile string, setMask SetMaskFunc, logger *logrus.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if !config.Enabled {
		return &Watcher{config: config, maskFile: maskFile, setMask: setMask, logger: logger}, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if config.WatchInterval == 0 {
		config.WatchInterval = 5 * time.Second
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		config:   config,
		maskFile: maskFile,
		setMask:  setMask,
		logger:   logger,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
	}

	if hash, err := w.hashFile(); err == nil {
		w.currentHash = hash
	} else {
		logger.WithError(err).Warn("failed to hash initial core mask file")
	}

	return w, nil
}

// Start begins watching in the background. A missing mask file at start
// time is not fatal: the watch on its parent directory picks it up once
// it is created (common when the file is a bind-mounted configmap key).
func (w *Watcher) Start() error {
	if !w.config.Enabled {
		w.logger.Info("core mask hot reload disabled")
		return nil
	}
	if w.running.Load() {
		return fmt.Errorf("core mask watcher already running")
	}

	dir := filepath.Dir(w.maskFile)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch core mask directory: %w", err)
	}
	if err := w.watcher.Add(w.maskFile); err != nil {
		w.logger.WithError(err).WithField("file", w.maskFile).Warn("failed to watch core mask file directly, relying on directory watch")
	}

	w.wg.Add(2)
	go w.watchEvents()
	go w.periodicCheck()

	w.running.Store(true)
	w.statsMu.Lock()
	w.stats.IsWatching = true
	w.statsMu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"file":     w.maskFile,
		"interval": w.config.WatchInterval,
	}).Info("core mask watcher started")
	return nil
}

// Stop halts the background goroutines.
func (w *Watcher) Stop() error {
	if !w.config.Enabled || !w.running.Load() {
		return nil
	}
	w.running.Store(false)
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()

	w.statsMu.Lock()
	w.stats.IsWatching = false
	w.statsMu.Unlock()
	return nil
}

// Stats returns a snapshot of the reload history.
func (w *Watcher) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.config.DebounceInterval)
			pending = true

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("core mask file watcher error")

		case <-debounce.C:
			if pending {
				pending = false
				w.reload()
			}
		}
	}
}

func (w *Watcher) periodicCheck() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			hash, err := w.hashFile()
			if err != nil {
				continue
			}
			if hash != w.currentHash {
				w.reload()
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	absEvent, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	absMask, err := filepath.Abs(w.maskFile)
	if err != nil {
		return false
	}
	return absEvent == absMask
}

// reload re-reads the mask file and, if its content changed, applies it
// through setMask.
func (w *Watcher) reload() {
	start := time.Now()

	w.statsMu.Lock()
	w.stats.TotalReloads++
	w.stats.LastReloadTime = start
	w.statsMu.Unlock()

	hash, mask, err := w.readMask()
	if err != nil {
		w.fail(err)
		return
	}
	if hash == w.currentHash {
		return
	}

	if err := w.setMask(mask); err != nil {
		w.fail(fmt.Errorf("apply core mask: %w", err))
		return
	}

	w.currentHash = hash
	w.statsMu.Lock()
	w.stats.SuccessfulReloads++
	w.stats.LastSuccessTime = time.Now()
	w.stats.CurrentMask = mask
	w.stats.LastError = ""
	w.statsMu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"mask":        mask,
		"reload_time": time.Since(start),
	}).Info("core mask reload applied")
}

func (w *Watcher) fail(err error) {
	w.statsMu.Lock()
	w.stats.FailedReloads++
	w.stats.LastError = err.Error()
	w.statsMu.Unlock()
	w.logger.WithError(err).Error("core mask reload failed")
}

func (w *Watcher) readMask() (hash string, mask string, err error) {
	data, err := os.ReadFile(w.maskFile)
	if err != nil {
		return "", "", dperrors.Invalid("hotreload", "readMask", "cannot read core mask file: "+err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), strings.TrimSpace(string(data)), nil
}

func (w *Watcher) hashFile() (string, error) {
	hash, _, err := w.readMask()
	return hash, err
}
