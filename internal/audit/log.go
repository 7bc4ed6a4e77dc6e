package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action identifies what an audit record describes.
type Action string

const (
	ActionSecretAccess    Action = "SECRET_ACCESS"
	ActionOrderProposed   Action = "ORDER_PROPOSED"
	ActionOrderAttempt    Action = "ORDER_ATTEMPT"
	ActionOrderResult     Action = "ORDER_RESULT"
	ActionRiskTransition  Action = "RISK_TRANSITION"
	ActionBreakerTrigger  Action = "BREAKER_TRIGGER"
	ActionAnomalyEvent    Action = "ANOMALY_EVENT"
	ActionUnwindRequested Action = "UNWIND_REQUESTED"
	ActionStressResult    Action = "STRESS_RESULT"
)

// Record is a single append-only audit entry. Records are never mutated or
// deleted by the router; retention and rotation belong to the operator.
type Record struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// Logger accepts audit records. Implementations must be safe for
// concurrent callers and must assign sequence numbers monotonically.
type Logger interface {
	Append(actor string, action Action, subject, outcome, detail string) Record
}

// Log is an in-memory audit log with an optional JSONL file sink. The
// in-memory window keeps the most recent records for inspection; the file
// sink, when configured, receives every record.
type Log struct {
	mu       sync.Mutex
	sequence uint64
	recent   []Record
	maxKeep  int
	file     *os.File
	enc      *json.Encoder
}

// NewLog creates an audit log keeping the last maxKeep records in memory.
func NewLog(maxKeep int) *Log {
	if maxKeep <= 0 {
		maxKeep = 1024
	}
	return &Log{
		recent:  make([]Record, 0, maxKeep),
		maxKeep: maxKeep,
	}
}

// NewFileLog creates an audit log that additionally appends every record
// to a JSONL file under dir.
func NewFileLog(dir string, maxKeep int) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	name := fmt.Sprintf("audit_%s.jsonl", time.Now().Format("2006-01-02"))
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	l := NewLog(maxKeep)
	l.file = file
	l.enc = json.NewEncoder(file)
	return l, nil
}

// Append records an entry and returns it with its assigned sequence number.
func (l *Log) Append(actor string, action Action, subject, outcome, detail string) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	rec := Record{
		Sequence:  l.sequence,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Outcome:   outcome,
		Detail:    detail,
	}

	l.recent = append(l.recent, rec)
	if len(l.recent) > l.maxKeep {
		l.recent = l.recent[1:]
	}

	if l.enc != nil {
		// A failed file write must not block order flow; the in-memory
		// window still holds the record.
		_ = l.enc.Encode(rec)
	}

	return rec
}

// Recent returns a copy of the in-memory record window, oldest first.
func (l *Log) Recent() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.recent))
	copy(out, l.recent)
	return out
}

// LastSequence returns the most recently assigned sequence number.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

// Close flushes and closes the file sink, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.enc = nil
	return err
}
