package persist

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/schema"
)

// Source names where Load found the state.
type Source string

const (
	SourceCache Source = "cache"
	SourceFile  Source = "file"
	SourceEmpty Source = "empty"
)

// FastReader reads the fast sink.
type FastReader interface {
	ReadFast() ([]byte, error)
}

// DurableReader reads the durable sink.
type DurableReader interface {
	ReadDurable() ([]byte, error)
}

// Load returns the startup state. The fast sink is tried first, then the
// durable file; unreadable or unparseable data falls through to the next
// source and finally to the empty state. The result is normalized with now.
func Load(fast FastReader, durable DurableReader, now time.Time, logger *log.Logger) (schema.State, Source) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if fast != nil {
		if state, ok := decode(fast.ReadFast, "cache", logger); ok {
			return state.Normalize(now), SourceCache
		}
	}
	if durable != nil {
		if state, ok := decode(durable.ReadDurable, "state file", logger); ok {
			return state.Normalize(now), SourceFile
		}
	}
	return schema.Empty(), SourceEmpty
}

func decode(read func() ([]byte, error), name string, logger *log.Logger) (schema.State, bool) {
	data, err := read()
	if errors.Is(err, ErrNoSnapshot) {
		return schema.State{}, false
	}
	if err != nil {
		logger.Printf("Ignoring %s: %v", name, err)
		return schema.State{}, false
	}
	state, err := schema.UnmarshalState(data)
	if err != nil {
		logger.Printf("Ignoring %s: %v", name, err)
		return schema.State{}, false
	}
	return state, true
}
