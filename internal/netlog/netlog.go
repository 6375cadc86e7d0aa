// Package netlog provides the logging and audit-trail surface shared by
// every other package in uppe. There is no structured logging framework
// in play here, same as upstream: a small interface over the standard
// library's log.Logger, plus a dedicated audit channel for security-
// relevant admission decisions.
package netlog

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Logger is the minimal logging surface the rest of uppe depends on.
type Logger interface {
	Printf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// Std wraps the standard library logger.
type Std struct {
	l *log.Logger
}

// NewStd creates a Logger writing to stderr with a "uppe: " prefix.
func NewStd() *Std {
	return &Std{l: log.New(os.Stderr, "uppe: ", log.LstdFlags)}
}

func (s *Std) Printf(format string, v ...interface{}) { s.l.Printf(format, v...) }
func (s *Std) Infof(format string, v ...interface{})  { s.l.Printf("INFO "+format, v...) }
func (s *Std) Debugf(format string, v ...interface{}) { s.l.Printf("DEBUG "+format, v...) }
func (s *Std) Warnf(format string, v ...interface{})  { s.l.Printf("WARN "+format, v...) }
func (s *Std) Errorf(format string, v ...interface{}) { s.l.Printf("ERROR "+format, v...) }

// Noop discards everything. Used in tests.
type Noop struct{}

func (Noop) Printf(string, ...interface{}) {}
func (Noop) Infof(string, ...interface{})  {}
func (Noop) Debugf(string, ...interface{}) {}
func (Noop) Warnf(string, ...interface{})  {}
func (Noop) Errorf(string, ...interface{}) {}

// AuditEvent is one entry in the security admission log.
type AuditEvent struct {
	Time   time.Time
	PeerID string
	Event  string
	Reason string
}

// AuditLog is the authoritative security log named in the error-handling
// design: every admission rejection (bad signature, timestamp skew,
// revoked admin key, rate-limit abuse) is recorded here with peer ID,
// event kind, and reason, independent of the general-purpose logger.
type AuditLog struct {
	mu  sync.Mutex
	log Logger
}

// NewAuditLog creates an audit log that writes each event as a one-line
// summary through the given general logger (target "uppe::audit").
func NewAuditLog(l Logger) *AuditLog {
	if l == nil {
		l = Noop{}
	}
	return &AuditLog{log: l}
}

// Record emits an audit event through the logger; events are not
// retained in memory.
func (a *AuditLog) Record(peerID, event, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.Warnf("uppe::audit peer=%s event=%s reason=%s", peerID, event, reason)
}

// Line formats an audit event's fields the way Record's logger call does, for
// tests that want to assert on format without a logger double.
func Line(peerID, event, reason string) string {
	return fmt.Sprintf("uppe::audit peer=%s event=%s reason=%s", peerID, event, reason)
}
