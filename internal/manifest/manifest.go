// Package manifest reads the package manifest that declares which agents a
// package provides and how the host should run them.
package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultSession is spawned when an agent entry lists no sessions.
const DefaultSession = "default"

var typePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Manifest is the on-disk package.json (or package.yaml) schema.
type Manifest struct {
	Name         string       `json:"name" yaml:"name"`
	Version      string       `json:"version" yaml:"version"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string       `json:"author,omitempty" yaml:"author,omitempty"`
	Agents       []AgentEntry `json:"agents" yaml:"agents"`
	Requirements []string     `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// AgentEntry registers one agent type with the host.
type AgentEntry struct {
	Type          string   `json:"type" yaml:"type"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Interval      Interval `json:"interval" yaml:"interval"`
	Subscriptions []string `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
	Sessions      []string `json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

// Normalized returns a trimmed copy with default sessions filled in.
func (m Manifest) Normalized() Manifest {
	clone := Manifest{
		Name:        strings.TrimSpace(m.Name),
		Version:     strings.TrimSpace(m.Version),
		Description: strings.TrimSpace(m.Description),
		Author:      strings.TrimSpace(m.Author),
	}
	if len(m.Agents) > 0 {
		clone.Agents = make([]AgentEntry, len(m.Agents))
		for i, a := range m.Agents {
			clone.Agents[i] = a.normalized()
		}
	}
	clone.Requirements = trimAll(m.Requirements)
	return clone
}

func (a AgentEntry) normalized() AgentEntry {
	clone := AgentEntry{
		Type:          strings.TrimSpace(a.Type),
		Description:   strings.TrimSpace(a.Description),
		Interval:      a.Interval,
		Subscriptions: trimAll(a.Subscriptions),
		Sessions:      trimAll(a.Sessions),
	}
	if len(clone.Sessions) == 0 {
		clone.Sessions = []string{DefaultSession}
	}
	return clone
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// Validate reports the first problem in the manifest.
func (m Manifest) Validate() error {
	n := m.Normalized()
	if n.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if n.Version == "" {
		return fmt.Errorf("manifest %s: version is required", n.Name)
	}
	if len(n.Agents) == 0 {
		return fmt.Errorf("manifest %s: at least one agent is required", n.Name)
	}
	seen := make(map[string]struct{}, len(n.Agents))
	for i, a := range n.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("manifest %s: agents[%d]: %w", n.Name, i, err)
		}
		if _, dup := seen[a.Type]; dup {
			return fmt.Errorf("manifest %s: agents[%d]: duplicate type %s", n.Name, i, a.Type)
		}
		seen[a.Type] = struct{}{}
	}
	if err := validateList("requirements", n.Requirements); err != nil {
		return fmt.Errorf("manifest %s: %w", n.Name, err)
	}
	return nil
}

// Validate checks a single agent entry.
func (a AgentEntry) Validate() error {
	n := a.normalized()
	if n.Type == "" {
		return fmt.Errorf("type is required")
	}
	if !typePattern.MatchString(n.Type) {
		return fmt.Errorf("type %q must be lower-case letters, digits, '_', '.' or '-'", n.Type)
	}
	if n.Interval.Set && n.Interval.Duration < 0 {
		return fmt.Errorf("type %s: interval must not be negative", n.Type)
	}
	if err := validateList("subscriptions", n.Subscriptions); err != nil {
		return fmt.Errorf("type %s: %w", n.Type, err)
	}
	if err := validateList("sessions", n.Sessions); err != nil {
		return fmt.Errorf("type %s: %w", n.Type, err)
	}
	return nil
}

func validateList(label string, items []string) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item == "" {
			return fmt.Errorf("%s[%d]: value is empty", label, i)
		}
		if _, dup := seen[item]; dup {
			return fmt.Errorf("%s[%d]: duplicate %s", label, i, item)
		}
		seen[item] = struct{}{}
	}
	return nil
}

// Entry returns the agent entry for agentType.
func (m Manifest) Entry(agentType string) (AgentEntry, bool) {
	for _, a := range m.Agents {
		if a.Type == agentType {
			return a, true
		}
	}
	return AgentEntry{}, false
}
