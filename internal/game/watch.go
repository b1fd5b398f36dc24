package game

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type fileStamp struct {
	mod  time.Time
	size int64
}

// FileWatcher polls game files and reports every batch of changes found in
// one tick with a single callback, so a multi-file edit reloads once.
type FileWatcher struct {
	paths    []string
	interval time.Duration
	onChange func(changed []string)
	seen     map[string]fileStamp
	done     chan struct{}
	stopped  sync.Once
}

func NewFileWatcher(paths []string, interval time.Duration, onChange func(changed []string)) *FileWatcher {
	return &FileWatcher{
		paths:    paths,
		interval: interval,
		onChange: onChange,
		seen:     make(map[string]fileStamp, len(paths)),
		done:     make(chan struct{}),
	}
}

// Start records the current stamps and polls in a goroutine.
func (w *FileWatcher) Start() {
	w.scan()
	go func() {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			select {
			case <-w.done:
				return
			case <-t.C:
				if changed := w.scan(); len(changed) > 0 && w.onChange != nil {
					w.onChange(changed)
				}
			}
		}
	}()
}

// Stop may be called more than once.
func (w *FileWatcher) Stop() {
	w.stopped.Do(func() { close(w.done) })
}

// scan returns the paths whose mtime or size moved. A missing file is
// skipped; the next load reports it.
func (w *FileWatcher) scan() []string {
	var changed []string
	for _, p := range w.paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		cur := fileStamp{mod: fi.ModTime(), size: fi.Size()}
		if prev, ok := w.seen[p]; ok && prev.size == cur.size && prev.mod.Equal(cur.mod) {
			continue
		}
		if _, ok := w.seen[p]; ok {
			changed = append(changed, p)
		}
		w.seen[p] = cur
	}
	return changed
}

// Reloader serves the live catalog and swaps in a new one when the game
// files change and the new one is compatible.
type Reloader struct {
	loader  *Loader
	current atomic.Pointer[Catalog]
	log     *logrus.Entry
	mu      sync.Mutex // one reload at a time
}

// NewReloader starts from an already loaded catalog.
func NewReloader(l *Loader, cat *Catalog, log *logrus.Entry) *Reloader {
	r := &Reloader{loader: l, log: log}
	r.current.Store(cat)
	return r
}

// Catalog returns the live snapshot.
func (r *Reloader) Catalog() *Catalog { return r.current.Load() }

// Reload re-reads every file. On any error the live catalog is kept.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loader.Invalidate()
	next, err := LoadCatalog(r.loader)
	if err != nil {
		r.log.WithError(err).Warn("game config reload rejected")
		return err
	}
	if err := Compatible(r.current.Load(), next); err != nil {
		r.log.WithError(err).Warn("game config reload rejected")
		return err
	}
	r.current.Store(next)
	r.log.WithField("version", next.Version).Info("game config reloaded")
	return nil
}

// Watch polls default.yaml and every family file of the live catalog.
func (r *Reloader) Watch(interval time.Duration) *FileWatcher {
	paths := []string{r.loader.Paths().DefaultPath()}
	for _, name := range r.Catalog().Names() {
		paths = append(paths, r.loader.Paths().FamilyPath(name))
	}
	w := NewFileWatcher(paths, interval, func(changed []string) {
		r.log.WithField("paths", changed).Debug("game config changed")
		_ = r.Reload()
	})
	w.Start()
	return w
}
