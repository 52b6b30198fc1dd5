// Package config loads recorderd's two external configuration surfaces:
// the subscription list (service_list.yaml) and process-level runtime
// settings (Runtime).
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// SubscriptionEntry binds one bus topic to its recorder behavior, per
// spec §6: "Each entry binds a topic name to a tuple
// [port, should_log, _, quicklog_freq, optional_remote_host]".
//
// Port is retained from the original tuple shape even though the concrete
// bus adapter (internal/bus) addresses topics by name, not TCP port —
// it still names which well-known port this topic mapped to on the
// original wire transport, useful for cross-referencing service_list.yaml
// against deployments that still speak it.
type SubscriptionEntry struct {
	Name         string
	Port         int
	ShouldLog    bool
	QuicklogFreq int
	RemoteHost   string // empty means "connect locally"; non-empty marks the topic timestamp-patchable.
}

// IsTimestampPatchable reports whether this subscription carries an
// explicit remote host, which spec §6 uses as the signal that the
// producer runs on a clock-skewed remote machine.
func (e SubscriptionEntry) IsTimestampPatchable() bool {
	return e.RemoteHost != ""
}

// LoadServiceList parses a service_list.yaml file into a deterministic,
// name-sorted slice of subscriptions. Each YAML value is a loosely typed
// sequence (mirroring the original's positional tuple), so entries are
// decoded permissively: a missing quicklog frequency or remote host is
// simply absent, not an error (spec §7: "recoverable configuration
// absence").
func LoadServiceList(path string) ([]SubscriptionEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read service list: %w", err)
	}

	var raw map[string][]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse service list: %w", err)
	}

	entries := make([]SubscriptionEntry, 0, len(raw))
	for name, tuple := range raw {
		entry, err := decodeEntry(name, tuple)
		if err != nil {
			return nil, fmt.Errorf("config: service %q: %w", name, err)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func decodeEntry(name string, tuple []any) (SubscriptionEntry, error) {
	if len(tuple) < 2 {
		return SubscriptionEntry{}, fmt.Errorf("tuple must have at least [port, should_log], got %d elements", len(tuple))
	}

	entry := SubscriptionEntry{Name: name}

	port, ok := toInt(tuple[0])
	if !ok {
		return SubscriptionEntry{}, fmt.Errorf("port must be an integer, got %T", tuple[0])
	}
	entry.Port = port

	shouldLog, ok := tuple[1].(bool)
	if !ok {
		return SubscriptionEntry{}, fmt.Errorf("should_log must be a bool, got %T", tuple[1])
	}
	entry.ShouldLog = shouldLog

	// tuple[2] is an unused placeholder slot in the original schema.

	if len(tuple) > 3 && tuple[3] != nil {
		freq, ok := toInt(tuple[3])
		if !ok {
			return SubscriptionEntry{}, fmt.Errorf("quicklog_freq must be an integer, got %T", tuple[3])
		}
		entry.QuicklogFreq = freq
	}

	if len(tuple) > 4 && tuple[4] != nil {
		host, ok := tuple[4].(string)
		if !ok {
			return SubscriptionEntry{}, fmt.Errorf("remote host must be a string, got %T", tuple[4])
		}
		entry.RemoteHost = host
	}

	return entry, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
