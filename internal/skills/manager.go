package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/ruster/internal/embedcache"
	"github.com/haasonsaas/ruster/internal/embeddings"
	"github.com/haasonsaas/ruster/internal/ragselect"
)

// Registry holds the current snapshot of discovered skills and serves the
// RAG Selector. Rescans build an entirely new snapshot and swap it in
// atomically; readers never see a half-updated view (spec.md §4.2, §9).
type Registry struct {
	dirs   []string
	cache  *embedcache.Cache
	embed  embeddings.Provider
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot map[string]*Skill

	watcher       *fsnotify.Watcher
	watchPaths    map[string]struct{}
	watchMu       sync.Mutex
	watchWg       sync.WaitGroup
	watchCancel   context.CancelFunc
	watchDebounce time.Duration
}

// NewRegistry builds a Registry over dirs (searched in order, later dirs
// win on a name collision), backed by cache for embedding reuse across
// rescans and embed for computing vectors of new or changed skills.
func NewRegistry(dirs []string, cache *embedcache.Cache, embed embeddings.Provider) *Registry {
	return &Registry{
		dirs:          dirs,
		cache:         cache,
		embed:         embed,
		logger:        slog.Default().With("component", "skills"),
		snapshot:      make(map[string]*Skill),
		watchPaths:    make(map[string]struct{}),
		watchDebounce: 250 * time.Millisecond,
	}
}

// Rescan discovers skills across all configured directories, embeds any
// skill whose (path, content_hash) isn't already cached, and atomically
// swaps in the new snapshot.
func (r *Registry) Rescan(ctx context.Context) error {
	discovered, err := DiscoverDirs(ctx, r.dirs, r.logger)
	if err != nil {
		return fmt.Errorf("skills: rescan: %w", err)
	}

	for _, skill := range discovered {
		if err := r.ensureEmbedding(ctx, skill); err != nil {
			r.logger.Warn("embedding skill failed, skill will not be RAG-eligible", "skill", skill.Name, "error", err)
		}
	}

	r.mu.Lock()
	r.snapshot = discovered
	r.mu.Unlock()

	r.logger.Info("skills rescanned", "count", len(discovered))

	if err := r.refreshWatches(); err != nil {
		r.logger.Warn("refresh skill watches failed", "error", err)
	}
	return nil
}

func (r *Registry) ensureEmbedding(ctx context.Context, skill *Skill) error {
	if r.cache != nil {
		if vec, ok, err := r.cache.Get(skill.Path, skill.ContentHash); err != nil {
			return err
		} else if ok {
			skill.Embedding = vec
			return nil
		}
	}

	if r.embed == nil {
		return nil
	}

	vec, err := r.embed.Embed(ctx, skill.Descriptor())
	if err != nil {
		return err
	}
	skill.Embedding = vec

	if r.cache != nil {
		if err := r.cache.Put(skill.Path, skill.ContentHash, vec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a skill by name from the current snapshot.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshot[name]
	return s, ok
}

// List returns all skills in the current snapshot, sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Skill, 0, len(r.snapshot))
	for _, s := range r.snapshot {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Search runs the RAG Selector over the current snapshot: embeds query,
// scores every skill not in excluded, and returns the top topN whose
// score is above threshold (spec.md §4.2, §4.6 step 1).
func (r *Registry) Search(ctx context.Context, query string, topN int, threshold float64, excluded map[string]bool) ([]ragselect.Result, error) {
	if r.embed == nil {
		return nil, fmt.Errorf("skills: search: no embedding provider configured")
	}
	vec, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("skills: search: embed query: %w", err)
	}

	r.mu.RLock()
	candidates := make([]ragselect.Candidate, 0, len(r.snapshot))
	for _, s := range r.snapshot {
		if s.Embedding == nil {
			continue
		}
		candidates = append(candidates, ragselect.Candidate{Name: s.Name, Embedding: s.Embedding})
	}
	r.mu.RUnlock()

	return ragselect.Select(vec, candidates, topN, threshold, excluded), nil
}

// StartWatching enables fsnotify-based rescans of the configured dirs.
func (r *Registry) StartWatching(ctx context.Context) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return err
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	debounce := r.watchDebounce
	r.watchMu.Unlock()

	if err := r.refreshWatches(); err != nil {
		r.logger.Warn("initial skill watch refresh failed", "error", err)
	}

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops the watcher, if any, and waits for its goroutine to exit.
func (r *Registry) Close() error {
	if r.cache != nil {
		defer r.cache.Close()
	}

	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, debounce time.Duration) {
	defer r.watchWg.Done()
	r.watchMu.Lock()
	watcher := r.watcher
	r.watchMu.Unlock()
	if watcher == nil {
		return
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRescan := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Rescan(context.Background()); err != nil {
				r.logger.Warn("skill rescan failed during watch refresh", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						r.addWatchPath(event.Name)
					}
				}
				scheduleRescan()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("skill watch error", "error", err)
		}
	}
}

func (r *Registry) refreshWatches() error {
	r.watchMu.Lock()
	watcher := r.watcher
	r.watchMu.Unlock()
	if watcher == nil {
		return nil
	}

	desired := make(map[string]struct{})
	for _, d := range r.dirs {
		if cleaned, ok := normalizeWatchPath(d); ok {
			desired[cleaned] = struct{}{}
		}
	}
	r.mu.RLock()
	for _, s := range r.snapshot {
		if cleaned, ok := normalizeWatchPath(s.Path); ok {
			desired[cleaned] = struct{}{}
		}
	}
	r.mu.RUnlock()

	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	for path := range desired {
		if _, ok := r.watchPaths[path]; ok {
			continue
		}
		if err := watcher.Add(path); err != nil {
			r.logger.Debug("failed to watch skills path", "path", path, "error", err)
			continue
		}
		r.watchPaths[path] = struct{}{}
	}
	for path := range r.watchPaths {
		if _, ok := desired[path]; ok {
			continue
		}
		if err := watcher.Remove(path); err != nil {
			r.logger.Debug("failed to unwatch skills path", "path", path, "error", err)
		}
		delete(r.watchPaths, path)
	}
	return nil
}

func (r *Registry) addWatchPath(path string) {
	cleaned, ok := normalizeWatchPath(path)
	if !ok {
		return
	}
	r.watchMu.Lock()
	watcher := r.watcher
	if watcher == nil {
		r.watchMu.Unlock()
		return
	}
	if _, exists := r.watchPaths[cleaned]; exists {
		r.watchMu.Unlock()
		return
	}
	r.watchMu.Unlock()

	if err := watcher.Add(cleaned); err != nil {
		return
	}
	r.watchMu.Lock()
	r.watchPaths[cleaned] = struct{}{}
	r.watchMu.Unlock()
}

func normalizeWatchPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return filepath.Clean(path), true
}
