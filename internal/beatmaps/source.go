// Package beatmaps fetches raw .osu beatmap bytes by id, caching them on
// disk by beatmaps/{id}.osu. Grounded on the teacher's disk-spillover
// cache (engine/resources.Manager), generalized from an LRU eviction
// cache into a pure write-through byte-blob store: beatmap files are
// immutable once fetched, so nothing ever needs to be evicted.
package beatmaps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
)

// Source fetches beatmap bytes, caching cache-miss fetches to disk.
type Source struct {
	cacheDir   string
	upstream   string
	httpClient *http.Client

	mu          sync.Mutex
	knownExist  map[int32]struct{}
	watcher     *fsnotify.Watcher
}

// New builds a Source rooted at cacheDir, fetching upstream misses from
// baseURL (e.g. "https://old.ppy.sh/osu").
func New(cacheDir, baseURL string, httpClient *http.Client) (*Source, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("beatmaps: create cache dir: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	s := &Source{
		cacheDir:   cacheDir,
		upstream:   baseURL,
		httpClient: httpClient,
		knownExist: make(map[int32]struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(cacheDir); err == nil {
			s.watcher = watcher
			go s.watchInvalidations()
		} else {
			watcher.Close()
		}
	}

	return s, nil
}

// Close stops the cache-invalidation watcher, if one is running.
func (s *Source) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// watchInvalidations drops an in-memory existence marker whenever a
// cached .osu file is removed out-of-band (e.g. manual cache eviction).
// Other file events are ignored. Fetch itself always reads the file from
// disk and does not consult the marker.
func (s *Source) watchInvalidations() {
	for event := range s.watcher.Events {
		if event.Op&fsnotify.Remove == 0 {
			continue
		}
		var id int32
		if _, err := fmt.Sscanf(filepath.Base(event.Name), "%d.osu", &id); err == nil {
			s.mu.Lock()
			delete(s.knownExist, id)
			s.mu.Unlock()
		}
	}
}

func (s *Source) path(beatmapID int32) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("%d.osu", beatmapID))
}

// Fetch returns the raw bytes of a beatmap's .osu file, reading through a
// local disk cache. On a cache miss it fetches the upstream beatmap
// service, stores the body verbatim, and returns it. Upstream 404 is
// surfaced as apperrors.NotFound; any other upstream failure is
// apperrors.DependencyFailed.
func (s *Source) Fetch(ctx context.Context, beatmapID int32) ([]byte, error) {
	if b, err := os.ReadFile(s.path(beatmapID)); err == nil {
		s.mu.Lock()
		s.knownExist[beatmapID] = struct{}{}
		s.mu.Unlock()
		return b, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to read beatmap cache", err)
	}

	body, err := s.fetchUpstream(ctx, beatmapID)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(s.path(beatmapID), body, 0o644); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to write beatmap cache", err)
	}
	s.mu.Lock()
	s.knownExist[beatmapID] = struct{}{}
	s.mu.Unlock()

	return body, nil
}

func (s *Source) fetchUpstream(ctx context.Context, beatmapID int32) ([]byte, error) {
	url := fmt.Sprintf("%s/%d", s.upstream, beatmapID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to build beatmap request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.DependencyFailed, "beatmap service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.New(apperrors.NotFound, "beatmap not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.DependencyFailed, fmt.Sprintf("beatmap service returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.DependencyFailed, "failed to read beatmap response body", err)
	}
	return body, nil
}
