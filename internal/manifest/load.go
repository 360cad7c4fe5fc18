package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"background-agents/internal/host"
)

// Format selects the manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension; anything that is not
// .yaml or .yml is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes and validates a manifest payload.
func Parse(data []byte, format Format) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Manifest{}, fmt.Errorf("manifest: payload is empty")
	}
	var m Manifest
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("manifest: decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&m); err != nil {
			return Manifest{}, fmt.Errorf("manifest: decode json: %w", err)
		}
	default:
		return Manifest{}, fmt.Errorf("manifest: unknown format %q", format)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m.Normalized(), nil
}

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Manifest{}, fmt.Errorf("manifest: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data, FormatFor(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Apply spawns every agent entry on h for each of its sessions. Interval
// and subscriptions from the manifest override what the agent declares.
func Apply(ctx context.Context, h *host.Host, m Manifest) error {
	m = m.Normalized()
	for _, a := range m.Agents {
		opts := host.SpawnOptions{Subscriptions: a.Subscriptions}
		if a.Interval.Set {
			d := a.Interval.Duration
			opts.Interval = &d
		}
		for _, session := range a.Sessions {
			if err := h.Spawn(ctx, session, a.Type, opts); err != nil {
				return fmt.Errorf("manifest %s: %w", m.Name, err)
			}
		}
	}
	return nil
}
