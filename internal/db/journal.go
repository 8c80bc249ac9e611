package db

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/events"
	"github.com/devprobe-project/devprobe/internal/util"
)

// Direction of a journal entry.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 20

// maxRecentLimit caps a single Recent query.
const maxRecentLimit = 1000

// Entry is one recorded datagram.
type Entry struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"ts"`
	Direction string    `json:"direction"`
	Peer      string    `json:"peer"`
	MsgType   string    `json:"msg_type,omitempty"`
	RawHex    string    `json:"raw_hex"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Journal records traffic in the datagrams table.
type Journal struct {
	db     *Database
	logger zerolog.Logger
}

// OpenJournal opens the database at path and migrates the schema.
func OpenJournal(path string) (*Journal, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:     database,
		logger: util.ComponentLogger("journal"),
	}

	if err := j.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return j, nil
}

// migrate creates the database schema.
func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS datagrams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			direction TEXT NOT NULL,
			peer TEXT NOT NULL,
			msg_type TEXT NOT NULL DEFAULT '',
			raw_hex TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_datagrams_direction ON datagrams(direction);
	`

	if _, err := j.db.ExecContext(context.Background(), schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	j.logger.Debug().Msg("journal schema migrated")
	return nil
}

// Record inserts one entry. A zero Time is replaced with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO datagrams (ts, direction, peer, msg_type, raw_hex, error_kind, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano), e.Direction, e.Peer, e.MsgType, e.RawHex, e.ErrorKind, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record datagram: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, direction, peer, msg_type, raw_hex, error_kind, error
		 FROM datagrams ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Direction, &e.Peer, &e.MsgType, &e.RawHex, &e.ErrorKind, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded entries.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datagrams").Scan(&n)
	return n, err
}

// Prune deletes all but the newest keep entries and returns how many rows
// were removed. keep <= 0 is a no-op.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	res, err := j.db.ExecContext(ctx,
		`DELETE FROM datagrams WHERE id <= (
			SELECT id FROM datagrams ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to traffic events on bus.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventMessageReceived, "journal", j.onEvent)
	bus.Subscribe(events.EventMalformedDatagram, "journal", j.onEvent)
	bus.Subscribe(events.EventMessageSent, "journal", j.onEvent)
	bus.Subscribe(events.EventSendFailed, "journal", j.onEvent)
}

func (j *Journal) onEvent(ctx context.Context, ev events.Event) error {
	entry, ok := entryFromEvent(ev)
	if !ok {
		return nil
	}
	if err := j.Record(ctx, entry); err != nil {
		j.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("journal write failed")
		return err
	}
	return nil
}

func entryFromEvent(ev events.Event) (Entry, bool) {
	switch p := ev.Payload.(type) {
	case events.ReceivedPayload:
		return Entry{
			Time:      ev.Time,
			Direction: DirectionInbound,
			Peer:      p.From,
			MsgType:   p.Message.Type.String(),
			RawHex:    hex.EncodeToString(p.Raw),
		}, true
	case events.MalformedPayload:
		return Entry{
			Time:      ev.Time,
			Direction: DirectionInbound,
			Peer:      p.From,
			RawHex:    hex.EncodeToString(p.Raw),
			ErrorKind: string(p.Kind),
			Error:     p.Reason(),
		}, true
	case events.SentPayload:
		e := Entry{
			Time:      ev.Time,
			Direction: DirectionOutbound,
			Peer:      p.To,
			MsgType:   p.Type.String(),
			RawHex:    hex.EncodeToString(p.Raw),
		}
		if p.Err != nil {
			e.ErrorKind = "send_failed"
			e.Error = p.Err.Error()
		}
		return e, true
	default:
		return Entry{}, false
	}
}
