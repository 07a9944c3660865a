// Package fonts keeps track of the font families available to the display.
// Families are found in local font directories or declared by a remote
// stylesheet.
package fonts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"proyektor/internal/logger"
)

// ErrTimeout is returned by WaitForFont when the family never showed up.
var ErrTimeout = errors.New("fonts: timed out waiting for font")

var fontExts = map[string]bool{".ttf": true, ".otf": true, ".ttc": true, ".woff": true, ".woff2": true}

// generic families are always resolvable.
var generic = map[string]bool{"serif": true, "sansserif": true, "monospace": true, "cursive": true, "fantasy": true, "systemui": true}

// DefaultDirs are the usual font locations on Linux and macOS.
func DefaultDirs() []string {
	dirs := []string{"/usr/share/fonts", "/usr/local/share/fonts", "/Library/Fonts", "/System/Library/Fonts"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".fonts"), filepath.Join(home, ".local", "share", "fonts"), filepath.Join(home, "Library", "Fonts"))
	}
	return dirs
}

// Registry resolves and remembers loaded families.
type Registry struct {
	dirs []string
	http *http.Client

	mu     sync.RWMutex
	loaded map[string]string
}

func NewRegistry(dirs ...string) *Registry {
	return &Registry{
		dirs:   dirs,
		http:   &http.Client{Timeout: 10 * time.Second},
		loaded: make(map[string]string),
	}
}

func normalize(family string) string {
	family = strings.ToLower(strings.Trim(strings.TrimSpace(family), `'"`))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(family)
}

// Preload resolves every family. Families that cannot be found are reported
// together; the others are still registered.
func (r *Registry) Preload(ctx context.Context, families ...string) error {
	var missing []string
	seen := make(map[string]bool)

	for _, family := range families {
		key := normalize(family)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		if err := ctx.Err(); err != nil {
			return err
		}
		if r.IsLoaded(family) {
			continue
		}
		if generic[key] {
			r.register(family, "generic")
			continue
		}

		path, ok := r.find(key)
		if !ok {
			missing = append(missing, family)
			continue
		}
		r.register(family, path)
		logger.Debug("font loaded", "family", family, "path", path)
	}

	if len(missing) > 0 {
		return fmt.Errorf("fonts not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) find(key string) (string, bool) {
	var found string
	for _, dir := range r.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !fontExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			name := normalize(strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())))
			if strings.HasPrefix(name, key) {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			logger.Debug("font directory not readable", "dir", dir, "error", err)
		}
		if found != "" {
			return found, true
		}
	}
	return "", false
}

func (r *Registry) register(family, source string) {
	r.mu.Lock()
	r.loaded[normalize(family)] = source
	r.mu.Unlock()
}

var fontFamilyDecl = regexp.MustCompile(`(?i)font-family\s*:\s*['"]?([^;'"}]+)['"]?`)

// LoadStylesheet fetches a CSS stylesheet and registers every family its
// @font-face rules declare. It returns the declared families.
func (r *Registry) LoadStylesheet(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stylesheet request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stylesheet %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch stylesheet %s: status %d", url, resp.StatusCode)
	}
	css, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read stylesheet %s: %w", url, err)
	}

	var families []string
	seen := make(map[string]bool)
	for _, m := range fontFamilyDecl.FindAllStringSubmatch(string(css), -1) {
		family := strings.TrimSpace(m[1])
		if family == "" || seen[normalize(family)] {
			continue
		}
		seen[normalize(family)] = true
		families = append(families, family)
		r.register(family, url)
	}

	logger.Info("stylesheet loaded", "url", url, "families", len(families))
	return families, nil
}

// IsLoaded reports whether the family was resolved.
func (r *Registry) IsLoaded(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[normalize(family)]
	return ok
}

// WaitForFont polls until the family is loaded or the timeout elapses.
func (r *Registry) WaitForFont(ctx context.Context, family string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for !r.IsLoaded(family) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrTimeout, family)
		case <-tick.C:
		}
	}
	return nil
}
