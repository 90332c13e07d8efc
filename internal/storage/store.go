// Package storage persists monitoring sessions and the port-switch journal.
package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmelnik/spectrum-sentry/internal/rf"
)

// Session is one monitoring run: which mode was active, on which device,
// and the configuration it started with.
type Session struct {
	ID        int64
	StartTime time.Time
	Mode      string
	DeviceID  string
	Config    *string
}

// SwitchRecord is one journaled port switch.
type SwitchRecord struct {
	ID        int64
	SessionID int64
	Timestamp time.Time
	Port      rf.Port
	Trigger   rf.Trigger
}

// Store manages session and switch-event persistence. Write operations are
// atomic; it is safe to call Close multiple times.
type Store interface {
	// CreateSession opens a new monitoring session and returns its ID.
	// Config can be a string, []byte, or any JSON-serializable value.
	CreateSession(ctx context.Context, mode, deviceID string, config any) (sessionID int64, err error)

	// Session retrieves one session by ID.
	Session(ctx context.Context, id int64) (*Session, error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) ([]*Session, error)

	// StoreSwitchEvent journals one committed port switch.
	StoreSwitchEvent(ctx context.Context, sessionID int64, ev rf.SwitchEvent) (eventID int64, err error)

	// SwitchEvents returns a session's switch journal in chronological order.
	SwitchEvents(ctx context.Context, sessionID int64) ([]*SwitchRecord, error)

	// Close releases all database connections.
	Close() error
}
