package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/debounce"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/importer"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// Inbox subdirectories.
const (
	InboxProcessedDir = "processed"
	InboxFailedDir    = "failed"
)

// DefaultInboxDelay is how long a dropped file must stay unchanged before it
// is imported.
const DefaultInboxDelay = 250 * time.Millisecond

// InboxResult reports one imported or rejected file.
type InboxResult struct {
	// Path is where the file ended up.
	Path   string
	Result importer.Result
	Err    error
}

// InboxWatcher imports json, jsonl and yaml files dropped into a directory.
// Imported files move to processed/ and rejected ones to failed/.
type InboxWatcher struct {
	dir    string
	store  *store.Store
	delay  time.Duration
	logger *log.Logger

	watcher *fsnotify.Watcher
	ready   chan string
	results chan InboxResult
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	pending map[string]*debounce.Debouncer
}

// NewInboxWatcher creates a watcher for dir. The watcher must be started
// with Start before it imports anything.
func NewInboxWatcher(dir string, s *store.Store, delay time.Duration, logger *log.Logger) (*InboxWatcher, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if delay <= 0 {
		delay = DefaultInboxDelay
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &InboxWatcher{
		dir:     dir,
		store:   s,
		delay:   delay,
		logger:  logger,
		watcher: watcher,
		ready:   make(chan string, 100),
		results: make(chan InboxResult, 100),
		done:    make(chan struct{}),
		pending: make(map[string]*debounce.Debouncer),
	}, nil
}

// Dir returns the watched directory.
func (w *InboxWatcher) Dir() string {
	return w.dir
}

// Results reports every file the watcher handled. Results are dropped when
// nobody reads them.
func (w *InboxWatcher) Results() <-chan InboxResult {
	return w.results
}

// Start creates the inbox directories, queues files already waiting there
// and begins watching for new ones.
func (w *InboxWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	for _, d := range []string{w.dir, filepath.Join(w.dir, InboxProcessedDir), filepath.Join(w.dir, InboxFailedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory %s: %w", d, err)
		}
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", w.dir, err)
	}

	waiting, err := w.waitingFiles()
	if err != nil {
		w.watcher.Remove(w.dir)
		return err
	}

	w.running = true
	w.wg.Add(2)
	go w.processEvents()
	go w.processFiles()

	for _, path := range waiting {
		w.scheduleLocked(path)
	}
	return nil
}

// Stop stops watching and waits for an import in progress to finish.
// Files still waiting out their delay are left in the inbox.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for _, d := range w.pending {
		d.Stop()
	}
	w.pending = make(map[string]*debounce.Debouncer)
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (w *InboxWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *InboxWatcher) waitingFiles() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !importable(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func importable(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, err := importer.FormatFromPath(name)
	return err == nil
}

func (w *InboxWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(w.dir) || !importable(filepath.Base(event.Name)) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Inbox watcher error: %v", err)
		}
	}
}

// schedule (re)starts the quiet period for path.
func (w *InboxWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.scheduleLocked(path)
}

func (w *InboxWatcher) scheduleLocked(path string) {
	d, ok := w.pending[path]
	if !ok {
		d = debounce.New(w.delay, func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()

			select {
			case w.ready <- path:
			case <-w.done:
			}
		})
		w.pending[path] = d
	}
	d.Trigger()
}

func (w *InboxWatcher) processFiles() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case path := <-w.ready:
			w.report(w.importFile(path))
		}
	}
}

func (w *InboxWatcher) importFile(path string) InboxResult {
	if _, err := os.Stat(path); err != nil {
		// Moved or deleted before its turn.
		return InboxResult{Path: path, Err: err}
	}

	bundle, err := importer.ReadFile(path)
	if err == nil && bundle.Empty() {
		err = importer.ErrEmpty
	}
	if err != nil {
		w.logger.Printf("Rejected %s: %v", filepath.Base(path), err)
		moved, moveErr := w.move(path, InboxFailedDir)
		if moveErr != nil {
			w.logger.Printf("Warning: %v", moveErr)
		}
		return InboxResult{Path: moved, Err: err}
	}

	result := importer.Apply(w.store, bundle)
	w.logger.Printf("Imported %s: %s", filepath.Base(path), result)

	moved, err := w.move(path, InboxProcessedDir)
	if err != nil {
		w.logger.Printf("Warning: %v", err)
	}
	return InboxResult{Path: moved, Result: result}
}

// move files path under sub, prefixing a timestamp so repeated drops of the
// same name do not collide.
func (w *InboxWatcher) move(path, sub string) (string, error) {
	name := time.Now().UTC().Format("20060102-150405.000") + "-" + filepath.Base(path)
	dest := filepath.Join(w.dir, sub, name)
	if err := os.Rename(path, dest); err != nil {
		return path, fmt.Errorf("failed to move %s to %s: %w", filepath.Base(path), sub, err)
	}
	return dest, nil
}

func (w *InboxWatcher) report(r InboxResult) {
	select {
	case w.results <- r:
	default:
	}
}
