// Package eventlog appends structured audit records to the vault's daily
// JSON-lines log under Logs/. One record per line, whole-line atomicity:
// the record is assembled in memory and written with a single append
// followed by fsync, so readers never see torn records (a torn final line
// can only come from a crash mid-write and is skipped by the reader).
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

const dayFormat = "2006-01-02"

// Appender writes records to Logs/<date>.jsonl, rotating lazily at the
// first write past local midnight.
type Appender struct {
	mu     sync.Mutex
	dir    string
	actor  string
	logger *slog.Logger
	now    func() time.Time

	f   *os.File
	day string
}

// New creates an Appender writing into dir (the vault's Logs directory)
// on behalf of actor.
func New(dir, actor string, logger *slog.Logger) *Appender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Appender{
		dir:    dir,
		actor:  actor,
		logger: logger,
		now:    time.Now,
	}
}

// Append writes one record. Missing ID, Timestamp and Actor fields are
// filled in; the write is fsynced before returning.
func (a *Appender) Append(e types.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(now), rand.New(rand.NewSource(now.UnixNano()))).String()
	}
	if e.Actor == "" {
		e.Actor = a.actor
	}

	if err := a.rotate(now); err != nil {
		return err
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	line = append(line, '\n')

	if _, err := a.f.Write(line); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return a.f.Sync()
}

// rotate opens today's file, creating it lazily on the first write of the
// day. Caller holds the lock.
func (a *Appender) rotate(now time.Time) error {
	day := now.Format(dayFormat)
	if a.f != nil && a.day == day {
		return nil
	}
	if a.f != nil {
		_ = a.f.Close()
		a.f = nil
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	path := filepath.Join(a.dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	a.f = f
	a.day = day
	return nil
}

// Close releases the current log file handle.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}

// ReadDay returns all records from Logs/<date>.jsonl in write order.
// Unparseable lines (a partial line from a crashed writer) are skipped.
// A missing file yields an empty slice.
func ReadDay(dir string, day time.Time) ([]types.Event, error) {
	path := filepath.Join(dir, day.Format(dayFormat)+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	var events []types.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e types.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("reading log file: %w", err)
	}
	return events, nil
}

// ReadRange returns records for every day in [from, to], inclusive.
func ReadRange(dir string, from, to time.Time) ([]types.Event, error) {
	var all []types.Event
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		events, err := ReadDay(dir, d)
		if err != nil {
			return all, err
		}
		all = append(all, events...)
	}
	return all, nil
}
