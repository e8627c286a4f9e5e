package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openmission/openmission/pkg/telemetry"
)

// Loader loads policy files from disk. It understands bare .rego
// modules and .json policy documents.
type Loader struct {
	logger  *telemetry.Logger
	mu      sync.RWMutex
	cache   map[string]*Policy
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader. A nil logger disables loader
// logging.
func NewLoader(logger *telemetry.Logger) *Loader {
	if logger != nil {
		logger = logger.NewComponentLogger("policy-loader")
	}
	return &Loader{
		logger: logger,
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	if l.logger != nil {
		l.logger.WithField("total", len(all)).WithField("sources", len(paths)).
			Info("policies loaded from paths")
	}
	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory loads all .rego and .json files from a directory
// recursively. A file that fails to load is logged and skipped so one
// bad policy does not take out the set.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			if l.logger != nil {
				l.logger.WithError(err).WithField("path", path).
					Warn("failed to load policy file")
			}
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policy = l.parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		policy, err = parseJSONFile(data)
		if err != nil {
			return nil, err
		}
		policy.Source = filePath
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	l.mu.Lock()
	l.cache[filePath] = policy
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.WithField("path", filePath).WithField("policy", policy.Name).
			Debug("policy loaded from file")
	}
	return policy, nil
}

// parseRegoFile wraps a bare .rego module in policy metadata. The
// policy name comes from the file name; the description from leading
// comments.
func (l *Loader) parseRegoFile(filePath string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")
	return &Policy{
		Name:        name,
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      filePath,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func parseJSONFile(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now()
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = time.Now()
	}
	return &policy, nil
}

// extractDescription collects the leading comment block of a Rego
// module.
func extractDescription(content string) string {
	var description strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" {
			break
		}
	}
	return description.String()
}

// LoadBundle loads a JSON policy bundle.
func (l *Loader) LoadBundle(bundlePath string) (*Bundle, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	if l.logger != nil {
		l.logger.WithField("bundle", bundle.Name).
			WithField("policies", len(bundle.Policies)).
			Info("policy bundle loaded")
	}
	return &bundle, nil
}

// Watch watches the given paths and invokes reloadFn with the freshly
// loaded policy set whenever a policy file changes. Reloads are
// debounced so an editor write burst triggers one reload.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if l.logger != nil {
				l.logger.WithError(err).WithField("path", path).
					Warn("failed to stat path for watching")
			}
			continue
		}
		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil && l.logger != nil {
				l.logger.WithError(err).WithField("path", path).
					Warn("failed to watch directory")
			}
		} else if err := watcher.Add(path); err != nil && l.logger != nil {
			l.logger.WithError(err).WithField("path", path).
				Warn("failed to watch file")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	if l.logger != nil {
		l.logger.WithField("paths", len(paths)).Info("watching policy paths")
	}
	return nil
}

func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	const reloadDelay = 500 * time.Millisecond
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isPolicyFile(event.Name) {
				continue
			}
			if l.logger != nil {
				l.logger.WithField("file", event.Name).Debug("policy file changed")
			}

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil && l.logger != nil {
					l.logger.WithError(err).Error("failed to reload policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if l.logger != nil {
				l.logger.WithError(err).Warn("policy watcher error")
			}
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	if l.logger != nil {
		l.logger.WithField("count", len(policies)).Info("policies reloaded")
	}
	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache clears the policy cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}
