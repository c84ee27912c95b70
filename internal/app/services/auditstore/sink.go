package auditstore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
)

// FileSink appends audit events as JSONL to a file. Grounded on
// fileAuditSink in internal/app/httpapi/audit.go.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) path for append. An empty path disables
// the sink: NewFileSink returns (nil, nil).
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, apperrors.IO(err)
	}
	return &FileSink{file: f}, nil
}

// Write appends one JSONL record. A best-effort call from Store.Insert.
func (s *FileSink) Write(e audit.Event) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
