// Package audit publishes the manifest of every committed construction
// session to downstream readers.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

// Sink receives committed manifests.
type Sink interface {
	Publish(ctx context.Context, m *apptype.Manifest) error
}

// LogSink writes each manifest as one JSON log line.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, m *apptype.Manifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	log.Printf("audit manifest: %s", b)
	return nil
}

// FileSink appends manifests to a JSON lines file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink returns a sink appending to path. The file is created on first use.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (f *FileSink) Publish(_ context.Context, m *apptype.Manifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", f.path, err)
	}
	if _, err := fh.Write(append(b, '\n')); err != nil {
		fh.Close()
		return fmt.Errorf("failed to write audit file %s: %w", f.path, err)
	}
	return fh.Close()
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (ms MultiSink) Publish(ctx context.Context, m *apptype.Manifest) error {
	var errs []error
	for _, s := range ms {
		if err := s.Publish(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewFromEnv builds the sinks named by AUDIT_SINK, a comma separated list of
// log, file and s3. "none" disables auditing and returns nil. Empty defaults
// to log.
func NewFromEnv(ctx context.Context) (Sink, error) {
	names := strings.ToLower(strings.TrimSpace(os.Getenv("AUDIT_SINK")))
	if names == "" {
		names = "log"
	}
	var sinks MultiSink
	for _, name := range strings.Split(names, ",") {
		switch strings.TrimSpace(name) {
		case "none":
			return nil, nil
		case "log":
			sinks = append(sinks, LogSink{})
		case "file":
			path := strings.TrimSpace(os.Getenv("AUDIT_FILE"))
			if path == "" {
				path = "ontograph-audit.jsonl"
			}
			sinks = append(sinks, NewFileSink(path))
		case "s3":
			s, err := OpenS3FromEnv(ctx)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case "":
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
