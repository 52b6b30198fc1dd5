// Package initdata builds the first record written into every segment:
// a snapshot of the device and build identity at the moment the segment
// was opened. It is grounded on loggerd.cc's gen_init_data(), which
// assembles the same fields from /proc, the environment, and the param
// store, tolerating any of them being absent.
package initdata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/e7canasta/recorderd/internal/params"
)

// DeviceType mirrors the original's InitData.DeviceType enum. recorderd
// only ever runs on one kind of device, so this is fixed rather than
// detected.
const DeviceType = "NEO"

// Record is the decoded form of the init record. Any field left at its
// zero value was simply unavailable when the record was built — a
// missing kernel cmdline or param-store value never fails segment
// creation, matching spec §7's "recoverable configuration absence".
type Record struct {
	LogMonoNanos     uint64
	DeviceType       string
	Version          string
	KernelArgs       []string
	KernelVersion    string
	SystemProperties map[string]string // key/value; iteration order irrelevant, per spec §4.5
	DongleID         string
	Dirty            bool
	GitCommit        string
	GitBranch        string
	GitRemote        string
	Passive          bool
	Params           map[string]string // full params dump, for SortedParams
}

// SortedParams returns Params as a name-sorted slice of key/value pairs,
// matching the original's use of std::map (which iterates in sorted
// order) for the embedded params dump.
func (r Record) SortedParams() []KeyValue {
	out := make([]KeyValue, 0, len(r.Params))
	for k, v := range r.Params {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KeyValue is one entry of a sorted params dump.
type KeyValue struct {
	Key   string
	Value string
}

// Build assembles a Record from the running system: /proc/cmdline,
// /proc/version, systemPropertiesPath, the DONGLE_ID and CLEAN
// environment variables, and the given param store for
// GitCommit/GitBranch/GitRemote/Passive plus the full params dump.
// version is the recorderd build version string (the Go analogue of
// COMMA_VERSION, supplied by the caller rather than baked in at compile
// time).
func Build(monoNanos uint64, version, systemPropertiesPath string, store *params.Store) Record {
	rec := Record{
		LogMonoNanos: monoNanos,
		DeviceType:   DeviceType,
		Version:      version,
	}

	if args, err := readCmdline("/proc/cmdline"); err == nil {
		rec.KernelArgs = args
	}
	if kv, err := os.ReadFile("/proc/version"); err == nil {
		rec.KernelVersion = strings.TrimRight(string(kv), "\n")
	}
	if props, err := readProperties(systemPropertiesPath); err == nil {
		rec.SystemProperties = props
	}

	if id := os.Getenv("DONGLE_ID"); id != "" {
		rec.DongleID = id
	}
	// Dirty mirrors "absence of CLEAN means dirty" from the original:
	// a build is assumed dirty unless explicitly marked clean.
	rec.Dirty = os.Getenv("CLEAN") == ""

	if store != nil {
		if v, ok, _ := store.Get("GitCommit"); ok {
			rec.GitCommit = v
		}
		if v, ok, _ := store.Get("GitBranch"); ok {
			rec.GitBranch = v
		}
		if v, ok, _ := store.Get("GitRemote"); ok {
			rec.GitRemote = v
		}
		if v, ok, _ := store.Get("Passive"); ok {
			rec.Passive = len(v) > 0 && v[0] == '1'
		}
		if all, err := store.All(); err == nil {
			rec.Params = all
		}
	}
	if rec.Params == nil {
		rec.Params = map[string]string{}
	}
	if rec.SystemProperties == nil {
		rec.SystemProperties = map[string]string{}
	}

	return rec
}

// readProperties parses a flat key=value properties file (one entry per
// line, blank lines and "#"-prefixed comments ignored), the Go analogue of
// the original's property_list()/append_property enumeration of Android
// system properties.
func readProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, scanner.Err()
}

// Marshal encodes the record as the opaque payload that Logger.NextSegment
// writes as a segment's first entry. The original serializes via a capnp
// schema; recorderd has no capnp or protobuf binding in its dependency
// set, so the record is JSON here — the record's own structure already
// names every field, so an external schema buys nothing recorderd needs.
func (r Record) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("initdata: marshal: %w", err)
	}
	return data, nil
}

// readCmdline splits /proc/cmdline on whitespace, matching the original's
// `cmdline_stream >> buf` token-by-token read.
func readCmdline(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var args []string
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		args = append(args, scanner.Text())
	}
	return args, scanner.Err()
}
