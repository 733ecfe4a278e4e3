// Package importer reads tracker records from JSON, JSONL and YAML files and
// writes exports in the same formats.
//
// A file may hold a whole persisted state (the jobs.json layout), an object
// keyed by collection, or a bare array of records. Bare arrays and JSONL
// streams belong to the collection named by the file: queries.json holds
// queries, bookings.jsonl holds bookings, audit.yaml holds audit entries and
// anything else holds jobs.
package importer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
	"github.com/itsboxy/diffking-job-tracker/internal/tracker/store"
)

// Format is a file encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ErrEmpty is returned for files with no records in them.
var ErrEmpty = errors.New("file is empty")

// ParseFormat parses a --format value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot tell the format of %s", filepath.Base(path))
	}
	return ParseFormat(ext)
}

// Collection names one of the imported collections.
type Collection string

const (
	CollectionJobs     Collection = "jobs"
	CollectionAudit    Collection = "audit"
	CollectionQueries  Collection = "queries"
	CollectionBookings Collection = "bookings"
)

// CollectionFromPath picks the collection a bare array in path belongs to.
func CollectionFromPath(path string) Collection {
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	switch {
	case strings.Contains(name, "quer"):
		return CollectionQueries
	case strings.Contains(name, "booking"):
		return CollectionBookings
	case strings.Contains(name, "audit"):
		return CollectionAudit
	}
	return CollectionJobs
}

// Bundle holds the collections read from a file. A nil slice means the file
// did not mention the collection; an empty one means it was present and
// empty.
type Bundle struct {
	Jobs     []schema.Job
	Audit    []schema.AuditEntry
	Queries  []schema.Query
	Bookings []schema.Booking
}

// Empty reports whether the bundle mentions no collection.
func (b Bundle) Empty() bool {
	return b.Jobs == nil && b.Audit == nil && b.Queries == nil && b.Bookings == nil
}

// ReadFile parses the file at path.
func ReadFile(path string) (Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Bundle{}, err
	}

	// #nosec G304 - controlled path from CLI or the inbox
	file, err := os.Open(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	b, err := Read(file, format, CollectionFromPath(path))
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// Read parses r. collection is where bare arrays and JSONL records go.
func Read(r io.Reader, format Format, collection Collection) (Bundle, error) {
	switch format {
	case FormatJSONL:
		return readJSONL(r, collection)
	case FormatYAML:
		data, err := io.ReadAll(r)
		if err != nil {
			return Bundle{}, err
		}
		js, err := yamlToJSON(data)
		if err != nil {
			return Bundle{}, err
		}
		return decode(js, collection)
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return Bundle{}, err
		}
		return decode(data, collection)
	}
	return Bundle{}, fmt.Errorf("unknown format %q", format)
}

func readJSONL(r io.Reader, collection Collection) (Bundle, error) {
	var records []json.RawMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 32<<20)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return Bundle{}, fmt.Errorf("invalid JSON at line %d", lineNum)
		}
		records = append(records, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return Bundle{}, err
	}
	if len(records) == 0 {
		return Bundle{}, ErrEmpty
	}

	data, err := json.Marshal(records)
	if err != nil {
		return Bundle{}, err
	}
	return decode(data, collection)
}

// yamlToJSON re-encodes a YAML document as JSON so every format shares one
// decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc == nil {
		return nil, ErrEmpty
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return js, nil
}

func decode(data []byte, collection Collection) (Bundle, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Bundle{}, ErrEmpty
	}

	switch data[0] {
	case '[':
		return decodeCollection(data, collection)
	case '{':
		return decodeObject(data, collection)
	}
	return Bundle{}, fmt.Errorf("expected an object or an array")
}

func decodeObject(data []byte, collection Collection) (Bundle, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Bundle{}, err
	}

	if jobs, ok := top["jobs"]; ok && startsWith(jobs, '{') {
		state, err := schema.UnmarshalState(data)
		if err != nil {
			return Bundle{}, err
		}
		return fromState(state), nil
	}

	var b Bundle
	found := false
	for _, c := range []Collection{CollectionJobs, CollectionAudit, CollectionQueries, CollectionBookings} {
		raw, ok := top[string(c)]
		if !ok {
			continue
		}
		found = true
		part, err := decodeCollection(raw, c)
		if err != nil {
			return Bundle{}, err
		}
		b = b.with(part)
	}
	if found {
		return b, nil
	}

	// A lone record.
	return decodeCollection(append(append([]byte{'['}, data...), ']'), collection)
}

func decodeCollection(data []byte, collection Collection) (Bundle, error) {
	var b Bundle
	var err error
	switch collection {
	case CollectionJobs:
		b.Jobs, err = decodeSlice[schema.Job](data)
	case CollectionAudit:
		b.Audit, err = decodeSlice[schema.AuditEntry](data)
	case CollectionQueries:
		b.Queries, err = decodeSlice[schema.Query](data)
	case CollectionBookings:
		b.Bookings, err = decodeSlice[schema.Booking](data)
	default:
		err = fmt.Errorf("unknown collection %q", collection)
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("invalid %s: %w", collection, err)
	}
	return b, nil
}

func decodeSlice[T any](data []byte) ([]T, error) {
	out := []T{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func startsWith(raw json.RawMessage, c byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == c
}

func (b Bundle) with(o Bundle) Bundle {
	if o.Jobs != nil {
		b.Jobs = o.Jobs
	}
	if o.Audit != nil {
		b.Audit = o.Audit
	}
	if o.Queries != nil {
		b.Queries = o.Queries
	}
	if o.Bookings != nil {
		b.Bookings = o.Bookings
	}
	return b
}

func fromState(s schema.State) Bundle {
	b := Bundle{
		Jobs:     s.Jobs.Jobs,
		Audit:    s.Jobs.Audit,
		Queries:  s.Queries.Queries,
		Bookings: s.Bookings.Bookings,
	}
	if b.Jobs == nil {
		b.Jobs = []schema.Job{}
	}
	if b.Audit == nil {
		b.Audit = []schema.AuditEntry{}
	}
	if b.Queries == nil {
		b.Queries = []schema.Query{}
	}
	if b.Bookings == nil {
		b.Bookings = []schema.Booking{}
	}
	return b
}

// Result counts what Apply replaced.
type Result struct {
	Jobs     int
	Audit    int
	Queries  int
	Bookings int
}

func (r Result) String() string {
	return fmt.Sprintf("%d jobs, %d queries, %d bookings, %d audit entries", r.Jobs, r.Queries, r.Bookings, r.Audit)
}

// Apply replaces each collection the bundle mentions using the bulk set
// actions. Collections the bundle does not mention are left alone.
func Apply(s *store.Store, b Bundle) Result {
	var r Result
	// The audit log goes first so the jobs import entry lands on top of it.
	if b.Audit != nil {
		s.Dispatch(store.SetAudit{Entries: b.Audit})
		r.Audit = len(b.Audit)
	}
	if b.Jobs != nil {
		s.Dispatch(store.SetJobs{Jobs: b.Jobs})
		r.Jobs = len(b.Jobs)
	}
	if b.Queries != nil {
		s.Dispatch(store.SetQueries{Queries: b.Queries})
		r.Queries = len(b.Queries)
	}
	if b.Bookings != nil {
		s.Dispatch(store.SetBookings{Bookings: b.Bookings})
		r.Bookings = len(b.Bookings)
	}
	return r
}
