package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djherbis/times"
	chromem "github.com/philippgille/chromem-go"

	"supportbot/internal/rag/pipeline"
	"supportbot/internal/rag/vectorstore"
	"supportbot/pkg/logger"
)

// State of the index lifecycle.
type State string

const (
	StateAbsent   State = "absent"
	StateBuilding State = "building"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

const (
	// LockFileName is the lock-marker file under the index root whose
	// presence and content signal an in-progress rebuild.
	LockFileName = ".rebuild.lock"

	// manifestFileName records which version directory is current and when
	// it was built.
	manifestFileName = "CURRENT"

	// versionPrefix names the per-build index directories under the root.
	versionPrefix = "v-"

	// lockLease is how long a rebuild may go without renewing its lock
	// before contenders may reclaim it.
	lockLease = 30 * time.Second
)

// manifest is the JSON content of the CURRENT file.
type manifest struct {
	Version  string    `json:"version"`
	BuiltAt  time.Time `json:"built_at"`
	Passages int       `json:"passages"`
}

// Manager owns the vector index's write path. It decides on startup whether
// to rebuild or load, serializes rebuilds through an exclusive leased lock,
// builds each rebuild into a fresh versioned directory, and publishes the
// new handle only after verification — readers never see a partial index,
// and a failed build leaves the previous index serving.
type Manager struct {
	docDir     string
	indexRoot  string
	collection string
	lockWait   time.Duration
	embedFn    chromem.EmbeddingFunc
	indexer    *pipeline.IndexingPipeline
	log        *logger.Logger

	mu      sync.Mutex
	state   State
	current atomic.Pointer[vectorstore.Store]
}

// NewManager creates a Manager for the index rooted at indexRoot, fed from
// the documents in docDir.
func NewManager(
	docDir, indexRoot, collection string,
	lockWait time.Duration,
	embedFn chromem.EmbeddingFunc,
	indexer *pipeline.IndexingPipeline,
	log *logger.Logger,
) *Manager {
	return &Manager{
		docDir:     docDir,
		indexRoot:  indexRoot,
		collection: collection,
		lockWait:   lockWait,
		embedFn:    embedFn,
		indexer:    indexer,
		log:        log,
		state:      StateAbsent,
	}
}

// Initialize decides between loading the existing index and rebuilding it.
// The index is rebuilt when it is absent or when any source document is
// newer than the recorded build time; otherwise the persisted index is
// loaded as-is.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(m.docDir, 0o755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}
	if err := os.MkdirAll(m.indexRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	mf, err := m.readManifest()
	if err != nil {
		m.log.Info("No existing index found, building.")
		return m.Rebuild(ctx)
	}

	stale, err := m.corpusNewerThan(mf.BuiltAt)
	if err != nil {
		return err
	}
	if stale {
		m.log.Info("Source documents are newer than the index, rebuilding.")
		return m.Rebuild(ctx)
	}

	store, err := vectorstore.Open(filepath.Join(m.indexRoot, mf.Version), m.collection, m.embedFn, m.log)
	if err != nil {
		m.log.Warn(fmt.Sprintf("Failed to load existing index, rebuilding: %v", err))
		return m.Rebuild(ctx)
	}

	m.current.Store(store)
	m.setState(StateReady)
	m.sweepOrphans(mf.Version)
	m.log.Info(fmt.Sprintf("Loaded existing index %s with %d entries", mf.Version, store.Count()))
	return nil
}

// Rebuild unconditionally rebuilds the index under the exclusive lock. The
// new index is built into a fresh versioned directory and only published —
// and the old version only deleted — after its entry count is verified, so
// a failed rebuild never destroys the serving index.
func (m *Manager) Rebuild(ctx context.Context) error {
	lock, err := AcquireLock(filepath.Join(m.indexRoot, LockFileName), m.lockWait, lockLease)
	if err != nil {
		return m.buildFailed(fmt.Errorf("could not acquire rebuild lock: %w", err))
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.log.Warn(err.Error())
		}
	}()

	m.setState(StateBuilding)
	buildStart := time.Now()
	version := fmt.Sprintf("%s%d", versionPrefix, buildStart.UnixNano())
	buildDir := filepath.Join(m.indexRoot, version)

	store, err := vectorstore.Open(buildDir, m.collection, m.embedFn, m.log)
	if err != nil {
		return m.buildFailed(err)
	}

	result, err := m.indexer.Run(ctx, m.docDir, store)
	if err != nil {
		m.discard(buildDir)
		return m.buildFailed(err)
	}

	// An unreadable corpus is a build failure; an empty corpus is not. The
	// empty index is a legitimate terminal state distinct from "failed".
	if result.FilesSeen > 0 && len(result.FailedFiles) == result.FilesSeen {
		m.discard(buildDir)
		return m.buildFailed(fmt.Errorf("no documents could be processed from a corpus of %d files", result.FilesSeen))
	}

	if result.Inserted != result.Passages || store.Count() != result.Passages {
		m.discard(buildDir)
		return m.buildFailed(fmt.Errorf("count mismatch after build: produced %d passages, inserted %d, index holds %d",
			result.Passages, result.Inserted, store.Count()))
	}

	// Verify against disk with an independent handle before publishing.
	check, err := vectorstore.Open(buildDir, m.collection, m.embedFn, m.log)
	if err != nil {
		m.discard(buildDir)
		return m.buildFailed(fmt.Errorf("failed to re-open built index for verification: %w", err))
	}
	if check.Count() != result.Passages {
		m.discard(buildDir)
		return m.buildFailed(fmt.Errorf("persisted index holds %d entries, expected %d", check.Count(), result.Passages))
	}

	// The build time is the moment the corpus scan started: a document
	// modified mid-build reads as newer and triggers the next rebuild.
	if err := m.writeManifest(manifest{Version: version, BuiltAt: buildStart, Passages: result.Passages}); err != nil {
		m.discard(buildDir)
		return m.buildFailed(err)
	}

	old := m.current.Swap(store)
	m.setState(StateReady)
	m.log.Info(fmt.Sprintf("Published index %s with %d passages (%d files, %d skipped)",
		version, result.Passages, result.FilesSeen, len(result.FailedFiles)))

	if old != nil && old.Dir() != buildDir {
		m.discard(old.Dir())
	}
	return nil
}

// Store returns the current index handle, or nil before initialization
// completes. Readers hold the handle they load; rebuilds swap in a new one
// without disturbing in-flight reads.
func (m *Manager) Store() *vectorstore.Store {
	return m.current.Load()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialized reports whether a verified index is being served.
func (m *Manager) Initialized() bool {
	return m.State() == StateReady && m.current.Load() != nil
}

// Count returns the entry count of the serving index, or zero if absent.
func (m *Manager) Count() int {
	store := m.current.Load()
	if store == nil {
		return 0
	}
	return store.Count()
}

// StorageSize returns the total size in bytes of the serving index's files.
func (m *Manager) StorageSize() int64 {
	store := m.current.Load()
	if store == nil {
		return 0
	}
	var size int64
	_ = filepath.WalkDir(store.Dir(), func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// buildFailed records the failure but keeps serving the previous index when
// one exists: with swap-before-delete the old version is still intact, so
// queries degrade to stale answers rather than none.
func (m *Manager) buildFailed(err error) error {
	if m.current.Load() != nil {
		m.setState(StateReady)
	} else {
		m.setState(StateFailed)
	}
	m.log.Error(fmt.Sprintf("Index build failed: %v", err))
	return err
}

// corpusNewerThan reports whether any source document was modified after t.
func (m *Manager) corpusNewerThan(t time.Time) (bool, error) {
	entries, err := os.ReadDir(m.docDir)
	if err != nil {
		return false, fmt.Errorf("failed to scan document directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		ts, err := times.Stat(filepath.Join(m.docDir, entry.Name()))
		if err != nil {
			// Treat an unreadable timestamp as stale rather than serving
			// an index of unknown freshness.
			return true, nil
		}
		if ts.ModTime().After(t) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) readManifest() (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(m.indexRoot, manifestFileName))
	if err != nil {
		return nil, err
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("corrupt index manifest: %w", err)
	}
	if mf.Version == "" {
		return nil, fmt.Errorf("index manifest names no version")
	}
	return &mf, nil
}

// writeManifest publishes the manifest atomically via rename.
func (m *Manager) writeManifest(mf manifest) error {
	data, err := json.Marshal(mf)
	if err != nil {
		return err
	}
	tmp := filepath.Join(m.indexRoot, manifestFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(m.indexRoot, manifestFileName)); err != nil {
		return fmt.Errorf("failed to publish index manifest: %w", err)
	}
	return nil
}

// discard removes a version directory, logging rather than failing: a
// leftover directory is swept on the next startup.
func (m *Manager) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.log.Warn(fmt.Sprintf("Failed to remove index directory %s: %v", dir, err))
	}
}

// sweepOrphans deletes version directories other than keep. A crash between
// publishing a new version and deleting the old one leaves orphans behind.
func (m *Manager) sweepOrphans(keep string) {
	entries, err := os.ReadDir(m.indexRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), versionPrefix) && entry.Name() != keep {
			m.discard(filepath.Join(m.indexRoot, entry.Name()))
		}
	}
}
