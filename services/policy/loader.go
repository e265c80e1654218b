package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/upb/agent-safe-grid/models"
)

// seedFile is the on-disk layout:
//
//	tenants:
//	  6f1c...:
//	    piiRedaction: true
//	    advancedRules:
//	      - id: block-secrets
//	        type: CONTENT
//	        config: {keywords: [confidential]}
type seedFile struct {
	Tenants map[string]interface{} `yaml:"tenants"`
}

// ParseSeed decodes a seed document into validated tenant policies.
// Fields a tenant omits keep their DefaultPolicyConfig values.
func ParseSeed(data []byte) (map[uuid.UUID]*models.PolicyConfig, error) {
	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy seed: %w", err)
	}

	out := make(map[uuid.UUID]*models.PolicyConfig, len(doc.Tenants))
	for key, raw := range doc.Tenants {
		tenantID, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant id %q: %w", key, err)
		}

		// Round-trip through JSON so rule configs decode by type.
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", key, err)
		}
		cfg := models.DefaultPolicyConfig()
		if err := json.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", key, err)
		}
		if err := ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", key, err)
		}
		out[tenantID] = cfg
	}
	return out, nil
}

// PolicySaver stores a tenant policy
type PolicySaver interface {
	Save(ctx context.Context, tenantID uuid.UUID, cfg *models.PolicyConfig) (*models.PolicyConfig, error)
}

// Loader applies a YAML seed file and optionally reloads it on change
type Loader struct {
	path     string
	saver    PolicySaver
	logger   *zap.Logger
	debounce time.Duration
}

// NewLoader creates a loader for path
func NewLoader(path string, saver PolicySaver, logger *zap.Logger) *Loader {
	return &Loader{
		path:     path,
		saver:    saver,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}
}

// Load parses the whole file first and saves only if every tenant is
// valid, so a bad edit never leaves a half-applied seed.
func (l *Loader) Load(ctx context.Context) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read policy seed: %w", err)
	}
	policies, err := ParseSeed(data)
	if err != nil {
		return err
	}

	for tenantID, cfg := range policies {
		if _, err := l.saver.Save(ctx, tenantID, cfg); err != nil {
			return fmt.Errorf("failed to apply policy for tenant %s: %w", tenantID, err)
		}
	}

	l.logger.Info("policy seed applied",
		zap.String("path", l.path),
		zap.Int("tenants", len(policies)))
	return nil
}

// Watch reloads the seed on write or create events until ctx is done.
// The parent directory is watched because editors often replace files.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", l.path, err)
	}
	target := filepath.Clean(l.path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		if err := l.Load(ctx); err != nil {
			l.logger.Error("policy seed reload failed, keeping previous policies",
				zap.String("path", l.path),
				zap.Error(err))
		}
	}

	l.logger.Info("watching policy seed", zap.String("path", l.path))
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			l.logger.Warn("policy seed watcher error", zap.Error(err))
		}
	}
}
