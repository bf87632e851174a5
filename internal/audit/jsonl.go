package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONLSink is the zero-infrastructure default sink: one append-only JSON
// lines file per stream. Writers within a stream are serialized by a
// per-stream mutex; the file is opened O_APPEND so a crashed process never
// truncates evidence.
type JSONLSink struct {
	dir     string
	mu      map[Stream]*sync.Mutex
	files   map[Stream]*os.File
	writers map[Stream]*bufio.Writer
}

// NewJSONLSink opens (creating if needed) the three stream files in dir.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}

	s := &JSONLSink{
		dir:     dir,
		mu:      make(map[Stream]*sync.Mutex),
		files:   make(map[Stream]*os.File),
		writers: make(map[Stream]*bufio.Writer),
	}

	for _, stream := range []Stream{StreamCloudQueries, StreamGuardrailEvents, StreamIsolationChecks} {
		f, err := os.OpenFile(s.path(stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening %s log: %w", stream, err)
		}
		s.mu[stream] = &sync.Mutex{}
		s.files[stream] = f
		s.writers[stream] = bufio.NewWriter(f)
	}

	return s, nil
}

func (s *JSONLSink) path(stream Stream) string {
	return filepath.Join(s.dir, string(stream)+".jsonl")
}

func (s *JSONLSink) append(stream Stream, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s entry: %w", stream, err)
	}

	mu := s.mu[stream]
	mu.Lock()
	defer mu.Unlock()

	w := s.writers[stream]
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("appending %s entry: %w", stream, err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("appending %s entry: %w", stream, err)
	}
	// Flush per entry: audit evidence must survive a crash.
	return w.Flush()
}

func (s *JSONLSink) AppendCloudQuery(_ context.Context, entry *CloudQueryEntry) error {
	return s.append(StreamCloudQueries, entry)
}

func (s *JSONLSink) AppendGuardrailEvent(_ context.Context, entry *GuardrailEventEntry) error {
	return s.append(StreamGuardrailEvents, entry)
}

func (s *JSONLSink) AppendIsolationCheck(_ context.Context, entry *PatientIsolationEntry) error {
	return s.append(StreamIsolationChecks, entry)
}

func (s *JSONLSink) QueryCloudQueries(_ context.Context, r TimeRange) ([]CloudQueryEntry, error) {
	var out []CloudQueryEntry
	err := s.scan(StreamCloudQueries, func(line []byte) error {
		var e CloudQueryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if r.Contains(e.Timestamp) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *JSONLSink) QueryGuardrailEvents(_ context.Context, r TimeRange) ([]GuardrailEventEntry, error) {
	var out []GuardrailEventEntry
	err := s.scan(StreamGuardrailEvents, func(line []byte) error {
		var e GuardrailEventEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if r.Contains(e.Timestamp) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *JSONLSink) QueryIsolationChecks(_ context.Context, r TimeRange) ([]PatientIsolationEntry, error) {
	var out []PatientIsolationEntry
	err := s.scan(StreamIsolationChecks, func(line []byte) error {
		var e PatientIsolationEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if r.Contains(e.Timestamp) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *JSONLSink) scan(stream Stream, fn func(line []byte) error) error {
	mu := s.mu[stream]
	mu.Lock()
	if err := s.writers[stream].Flush(); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	f, err := os.Open(s.path(stream))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("reading %s log: %w", stream, err)
		}
	}
	return scanner.Err()
}

// Seal rotates the stream's current file into a timestamped segment and
// starts a fresh one. The sealed path is returned for archival; the live
// store never deletes it.
func (s *JSONLSink) Seal(stream Stream) (string, error) {
	mu, ok := s.mu[stream]
	if !ok {
		return "", fmt.Errorf("unknown stream %q", stream)
	}

	mu.Lock()
	defer mu.Unlock()

	if err := s.writers[stream].Flush(); err != nil {
		return "", err
	}
	if err := s.files[stream].Close(); err != nil {
		return "", err
	}

	sealed := filepath.Join(s.dir, fmt.Sprintf("%s-%s.jsonl", stream, time.Now().UTC().Format("20060102T150405Z")))
	if err := os.Rename(s.path(stream), sealed); err != nil {
		return "", fmt.Errorf("sealing %s log: %w", stream, err)
	}

	f, err := os.OpenFile(s.path(stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return "", fmt.Errorf("reopening %s log: %w", stream, err)
	}
	s.files[stream] = f
	s.writers[stream] = bufio.NewWriter(f)

	return sealed, nil
}

func (s *JSONLSink) Close() error {
	var firstErr error
	for stream, f := range s.files {
		if w := s.writers[stream]; w != nil {
			if err := w.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
