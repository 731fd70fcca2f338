package decisionlog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// DecisionEntry is one line in the decision log: a single exchange or
// authorization outcome with enough context to replay the decision.
type DecisionEntry struct {
	Time       time.Time         `json:"time"`
	Decision   string            `json:"decision"` // "exchange" or "authz"
	Outcome    string            `json:"outcome"`  // "allow" or "deny"
	IdentityID string            `json:"identity_id,omitempty"`
	Audience   string            `json:"audience,omitempty"`
	Role       string            `json:"role,omitempty"`
	Action     string            `json:"action,omitempty"`
	Resource   string            `json:"resource,omitempty"`
	ErrorClass string            `json:"error_class,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
}

// Logger appends decision entries to a JSON-lines file.
type Logger struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

func New(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (l *Logger) Log(entry DecisionEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enc.Encode(entry)
}

func (l *Logger) Close() error {
	return l.file.Close()
}
