package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
)

var (
	// ErrNoStatus indicates no status file has been written yet
	ErrNoStatus = errors.New("no status available")
	// ErrCorruptStatus indicates the status file could not be decoded
	ErrCorruptStatus = errors.New("status file is corrupt")
)

// File appends detections to a JSONL log and replaces a JSON status file.
type File struct {
	mu         sync.Mutex
	events     *os.File
	statusPath string
}

// OpenFile opens (or creates) the event log for appending. Parent
// directories of both paths are created.
func OpenFile(eventsPath, statusPath string) (*File, error) {
	for _, p := range []string{eventsPath, statusPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.OpenFile(eventsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	return &File{events: f, statusPath: statusPath}, nil
}

// Detection appends one JSON line to the event log.
func (s *File) Detection(_ context.Context, ev monitor.DetectionEvent) error {
	data, err := json.Marshal(NewEventRecord(ev))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return os.ErrClosed
	}
	if _, err := s.events.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Status replaces the status file. Readers see either the previous or the
// new snapshot, never a partial one.
func (s *File) Status(_ context.Context, st monitor.StatusSnapshot) error {
	data, err := json.Marshal(NewStatusRecord(st))
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.statusPath, data)
}

// Close closes the event log.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return nil
	}
	err := s.events.Close()
	s.events = nil
	return err
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp status: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp status: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp status: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace status: %w", err)
	}
	return nil
}

// ReadStatus loads the status file written by File.Status.
func ReadStatus(path string) (StatusRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StatusRecord{}, ErrNoStatus
		}
		return StatusRecord{}, fmt.Errorf("read status: %w", err)
	}

	var rec StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StatusRecord{}, fmt.Errorf("%w: %w", ErrCorruptStatus, err)
	}
	return rec, nil
}

// ReadEvents loads the event log, oldest first. A missing log is an empty
// history; malformed lines are skipped.
func ReadEvents(path string) ([]EventRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []EventRecord{}, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	events := []EventRecord{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		events = append(events, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}
