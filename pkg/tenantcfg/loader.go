// Package tenantcfg loads per-tenant extraction configuration: an
// industry template deep-merged with a per-tenant override. Templates
// carry the prompts and column layouts; overrides carry identity
// (bucket, sheet id) and label patches.
package tenantcfg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// SchemaRange is the template schema_version range this binary
// understands. Templates outside it are refused at load time.
const SchemaRange = ">=1.0.0 <2.0.0"

// Prompts holds the per-kind system prompts sent to the vision model.
type Prompts struct {
	Sales   string `json:"sales_prompt"`
	Vendor  string `json:"vendor_prompt"`
	Mapping string `json:"mapping_prompt"`
}

// Column describes one extracted column as shown in the review UI.
type Column struct {
	DBColumn string `json:"db_column"`
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"`
}

// AlertRule is one dashboard alert expression evaluated per stock row.
type AlertRule struct {
	ID       string `json:"id"`
	Expr     string `json:"expr"`
	Severity string `json:"severity,omitempty"`
}

// Config is the merged view handed to the pipeline.
type Config struct {
	Tenant        string              `json:"tenant"`
	Industry      string              `json:"industry"`
	Bucket        string              `json:"bucket"`
	SheetID       string              `json:"sheet_id,omitempty"`
	SchemaVersion string              `json:"schema_version"`
	Gemini        Prompts             `json:"gemini"`
	Columns       map[string][]Column `json:"columns"`
	Alerts        []AlertRule         `json:"alerts,omitempty"`
}

// Prompt returns the system prompt for a task kind.
func (c *Config) Prompt(kind string) string {
	switch kind {
	case "vendor", "purchase":
		return c.Gemini.Vendor
	case "mapping":
		return c.Gemini.Mapping
	default:
		return c.Gemini.Sales
	}
}

type templateFile struct {
	SchemaVersion string              `json:"schema_version"`
	Industry      string              `json:"industry"`
	Gemini        *Prompts            `json:"gemini"`
	Columns       map[string][]Column `json:"columns"`
	Alerts        []AlertRule         `json:"alerts"`
}

type overrideFile struct {
	Tenant               string              `json:"tenant"`
	Industry             string              `json:"industry"`
	Bucket               string              `json:"bucket"`
	SheetID              string              `json:"sheet_id"`
	ColumnLabelOverrides map[string]string   `json:"column_label_overrides"`
	Gemini               *Prompts            `json:"gemini"`
	Columns              map[string][]Column `json:"columns"`
	Alerts               []AlertRule         `json:"alerts"`
}

// Loader reads and caches merged tenant configs. Reads dominate; the
// cache is invalidated per-tenant via the bypass flag.
type Loader struct {
	dir         string
	schemaRange *semver.Constraints
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Config
}

// NewLoader creates a loader rooted at dir, which holds
// templates/<industry>.json and tenants/<name>.json.
func NewLoader(dir string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rng, err := semver.NewConstraint(SchemaRange)
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: parsing schema range: %w", err)
	}
	return &Loader{
		dir:         dir,
		schemaRange: rng,
		logger:      logger.With("component", "tenantcfg"),
		cache:       make(map[string]*Config),
	}, nil
}

// Load returns the merged config for a tenant. bypassCache forces a
// re-read from disk. Lookup prefers the exact tenant name and falls
// back to its lowercase form.
func (l *Loader) Load(tenant string, bypassCache bool) (*Config, error) {
	if !bypassCache {
		l.mu.RLock()
		cached, ok := l.cache[tenant]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	cfg, err := l.read(tenant)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[tenant] = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read(tenant string) (*Config, error) {
	raw, name, err := l.readTenantFile(tenant)
	if err != nil {
		return nil, err
	}

	var override overrideFile
	if err := json.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("tenantcfg: parsing tenant %s: %w", name, err)
	}
	if override.Industry == "" {
		return nil, fmt.Errorf("tenantcfg: tenant %s names no industry", name)
	}

	tmplRaw, err := os.ReadFile(filepath.Join(l.dir, "templates", override.Industry+".json"))
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: reading template %s: %w", override.Industry, err)
	}
	var tmpl templateFile
	if err := json.Unmarshal(tmplRaw, &tmpl); err != nil {
		return nil, fmt.Errorf("tenantcfg: parsing template %s: %w", override.Industry, err)
	}

	if err := l.checkSchema(override.Industry, tmpl.SchemaVersion); err != nil {
		return nil, err
	}

	cfg := merge(&tmpl, &override)
	if cfg.Tenant == "" {
		cfg.Tenant = tenant
	}
	l.logger.Debug("tenant config loaded", "tenant", cfg.Tenant, "industry", cfg.Industry)
	return cfg, nil
}

func (l *Loader) readTenantFile(tenant string) ([]byte, string, error) {
	exact := filepath.Join(l.dir, "tenants", tenant+".json")
	if raw, err := os.ReadFile(exact); err == nil {
		return raw, tenant, nil
	}
	lower := strings.ToLower(tenant)
	raw, err := os.ReadFile(filepath.Join(l.dir, "tenants", lower+".json"))
	if err != nil {
		return nil, "", fmt.Errorf("tenantcfg: no config for tenant %q: %w", tenant, err)
	}
	return raw, lower, nil
}

func (l *Loader) checkSchema(industry, version string) error {
	if version == "" {
		return fmt.Errorf("tenantcfg: template %s has no schema_version", industry)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("tenantcfg: template %s schema_version %q: %w", industry, version, err)
	}
	if !l.schemaRange.Check(v) {
		return fmt.Errorf("tenantcfg: template %s schema_version %s outside supported range %s", industry, version, SchemaRange)
	}
	return nil
}

// merge applies the deep-merge policy: identity fields come from the
// tenant; a tenant gemini or columns block replaces the template's
// wholesale; column_label_overrides patch matching db_column entries
// across every column group.
func merge(tmpl *templateFile, override *overrideFile) *Config {
	cfg := &Config{
		Tenant:        override.Tenant,
		Industry:      override.Industry,
		Bucket:        override.Bucket,
		SheetID:       override.SheetID,
		SchemaVersion: tmpl.SchemaVersion,
		Columns:       cloneColumns(tmpl.Columns),
		Alerts:        tmpl.Alerts,
	}
	if tmpl.Gemini != nil {
		cfg.Gemini = *tmpl.Gemini
	}
	if override.Gemini != nil {
		cfg.Gemini = *override.Gemini
	}
	if override.Columns != nil {
		cfg.Columns = cloneColumns(override.Columns)
	}
	if override.Alerts != nil {
		cfg.Alerts = override.Alerts
	}

	for dbCol, label := range override.ColumnLabelOverrides {
		for group := range cfg.Columns {
			for i := range cfg.Columns[group] {
				if cfg.Columns[group][i].DBColumn == dbCol {
					cfg.Columns[group][i].Label = label
				}
			}
		}
	}
	return cfg
}

func cloneColumns(src map[string][]Column) map[string][]Column {
	out := make(map[string][]Column, len(src))
	for k, cols := range src {
		dup := make([]Column, len(cols))
		copy(dup, cols)
		out[k] = dup
	}
	return out
}
