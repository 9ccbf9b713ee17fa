package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
)

// FileChangeFunc receives workspace mutation notices. path is relative
// to the session workspace; op is one of create, write, remove, rename.
type FileChangeFunc func(sessionID, path, op string)

// WatcherHub runs one recursive fsnotify watcher per session workspace
// and forwards change notices to the registered callback.
type WatcherHub struct {
	manager *Manager
	notify  FileChangeFunc
	log     *logger.Logger

	mu       sync.Mutex
	watchers map[string]*sessionWatcher
}

type sessionWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcherHub creates a hub. notify may be nil; changes are then only
// logged.
func NewWatcherHub(manager *Manager, notify FileChangeFunc, log *logger.Logger) *WatcherHub {
	if log == nil {
		log = logger.Default()
	}
	return &WatcherHub{
		manager:  manager,
		notify:   notify,
		log:      log.WithFields(zap.String("component", "workspace_watcher")),
		watchers: make(map[string]*sessionWatcher),
	}
}

// Start begins watching a session's workspace. Idempotent per session.
func (h *WatcherHub) Start(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[sessionID]; ok {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	base := h.manager.WorkspacePath(sessionID)
	if err := addRecursive(w, base); err != nil {
		w.Close()
		return err
	}

	sw := &sessionWatcher{watcher: w, done: make(chan struct{})}
	h.watchers[sessionID] = sw
	go h.run(sessionID, base, sw)
	return nil
}

func (h *WatcherHub) run(sessionID, base string, sw *sessionWatcher) {
	defer close(sw.done)
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			h.handle(sessionID, base, sw.watcher, event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("workspace watch error",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
}

func (h *WatcherHub) handle(sessionID, base string, w *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(base, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	// Skip editor temp files and hidden metadata
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return
	}

	// Newly created directories must be watched too
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = addRecursive(w, event.Name)
		}
	}

	var op string
	switch {
	case event.Op.Has(fsnotify.Create):
		op = "create"
	case event.Op.Has(fsnotify.Write):
		op = "write"
	case event.Op.Has(fsnotify.Remove):
		op = "remove"
	case event.Op.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}

	if h.notify != nil {
		h.notify(sessionID, filepath.ToSlash(rel), op)
	}
	h.log.Debug("workspace change",
		zap.String("session_id", sessionID),
		zap.String("path", rel),
		zap.String("op", op))
}

// Stop ends the watcher for one session and waits for its loop to exit.
func (h *WatcherHub) Stop(sessionID string) {
	h.mu.Lock()
	sw, ok := h.watchers[sessionID]
	delete(h.watchers, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	sw.watcher.Close()
	<-sw.done
}

// StopAll ends every session watcher.
func (h *WatcherHub) StopAll() {
	h.mu.Lock()
	all := make([]string, 0, len(h.watchers))
	for id := range h.watchers {
		all = append(all, id)
	}
	h.mu.Unlock()
	for _, id := range all {
		h.Stop(id)
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}
