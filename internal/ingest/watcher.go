package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long a file must stay quiet before it is indexed.
const DefaultDebounce = 500 * time.Millisecond

// File is one watched file ready for indexing.
type File struct {
	Path        string
	Name        string
	ContentType string
	Title       string
	Text        string
}

// Indexer receives extracted files.
type Indexer interface {
	IndexFile(ctx context.Context, f File) error
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(ctx context.Context, f File) error

// IndexFile implements Indexer.
func (fn IndexerFunc) IndexFile(ctx context.Context, f File) error { return fn(ctx, f) }

// Watcher indexes .md, .txt and .html files dropped into Dir. Existing files
// are indexed once at start; later writes are debounced per path.
type Watcher struct {
	Dir      string
	Indexer  Indexer
	Debounce time.Duration
	Log      zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewWatcher returns a Watcher with the default debounce.
func NewWatcher(dir string, ix Indexer, log zerolog.Logger) *Watcher {
	return &Watcher{Dir: dir, Indexer: ix, Debounce: DefaultDebounce, Log: log}
}

// Run blocks until ctx is cancelled or the underlying watcher fails to start.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return err
	}

	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.wg.Wait()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if DetectContentType(ev.Name, "") == "" {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn().Err(err).Str("dir", w.Dir).Msg("watch error")
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		w.Log.Warn().Err(err).Str("dir", w.Dir).Msg("initial scan failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(w.Dir, e.Name())
		if DetectContentType(p, "") == "" {
			continue
		}
		w.process(ctx, p)
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	d := w.Debounce
	if d <= 0 {
		d = DefaultDebounce
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timers == nil {
		w.timers = make(map[string]*time.Timer)
	}
	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(d, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, p)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	f, err := ReadFile(path)
	if err != nil {
		w.Log.Warn().Err(err).Str("path", path).Msg("read failed")
		return
	}
	if f.Text == "" {
		return
	}
	if err := w.Indexer.IndexFile(ctx, f); err != nil {
		w.Log.Error().Err(err).Str("path", path).Msg("index failed")
		return
	}
	w.Log.Info().Str("path", path).Msg("indexed")
}

// ReadFile extracts the file at path. The title falls back to the base name.
func ReadFile(path string) (File, error) {
	ct := DetectContentType(path, "")
	fh, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer fh.Close()

	ex, err := Extract(ct, fh)
	if err != nil {
		return File{}, err
	}
	name := filepath.Base(path)
	title := ex.Title
	if title == "" {
		title = name
	}
	return File{Path: path, Name: name, ContentType: ct, Title: title, Text: ex.Text}, nil
}
