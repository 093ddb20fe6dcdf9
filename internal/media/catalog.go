// Package media lists the video files available for playback.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/tilewall/internal/logger"
)

// ErrUnknownMedia is returned for names that are not in the catalog
var ErrUnknownMedia = errors.New("unknown media file")

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".ts":   true,
	".m4v":  true,
}

// Item is one playable file
type Item struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Catalog keeps a listing of a media directory. The listing is rebuilt
// lazily after fsnotify reports a change.
type Catalog struct {
	dir string

	mu    sync.RWMutex
	items []Item
	stale bool

	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	closeOnce sync.Once
}

// NewCatalog scans dir and watches it for changes. A missing watcher is
// not fatal; the catalog then rescans on every List.
func NewCatalog(dir string) (*Catalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open media dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media path %s is not a directory", abs)
	}

	c := &Catalog{dir: abs, stale: true, stopWatch: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Global().Warn("failed to create media watcher: %v", err)
		return c, nil
	}
	if err := watcher.Add(abs); err != nil {
		logger.Global().Warn("failed to watch media dir %s: %v", abs, err)
		watcher.Close()
		return c, nil
	}
	c.watcher = watcher
	go c.watch()
	return c, nil
}

// Dir returns the absolute media directory
func (c *Catalog) Dir() string {
	return c.dir
}

// Close stops watching the directory
func (c *Catalog) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopWatch)
		if c.watcher != nil {
			err = c.watcher.Close()
		}
	})
	return err
}

func (c *Catalog) watch() {
	for {
		select {
		case <-c.stopWatch:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			logger.Global().Debug("media dir changed: %s %s", event.Op, event.Name)
			c.mu.Lock()
			c.stale = true
			c.mu.Unlock()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			logger.Global().Error("media watcher error: %v", err)
		}
	}
}

// List returns the playable files sorted by name
func (c *Catalog) List() ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale || c.watcher == nil {
		items, err := scan(c.dir)
		if err != nil {
			return nil, err
		}
		c.items = items
		c.stale = false
	}
	return append([]Item(nil), c.items...), nil
}

// Resolve maps a catalog name to its absolute path. Only plain file names
// listed in the catalog are accepted.
func (c *Catalog) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownMedia, name)
	}
	items, err := c.List()
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if item.Name == name {
			return filepath.Join(c.dir, name), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMedia, name)
}

func scan(dir string) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read media dir: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{Name: entry.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}
