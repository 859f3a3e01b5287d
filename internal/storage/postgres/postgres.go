// Package postgres provides the production entity store backed by
// PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/types"
)

//go:embed schema.sql
var schema string

// Store implements storage.Store on a pgx connection pool
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and applies the schema
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// CreateSession persists a new session
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, status)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`, session.ID, session.Status)
	if err := row.Scan(&session.CreatedAt, &session.UpdatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT id, status, COALESCE(vm_container_id,''), COALESCE(vnc_host,''),
		       COALESCE(vnc_port,0), COALESCE(novnc_url,''), COALESCE(last_error,''),
		       created_at, updated_at
		FROM sessions WHERE id = $1
	`, sessionID))
}

// UpdateSessionVM records provisioned VM connection metadata
func (s *Store) UpdateSessionVM(ctx context.Context, sessionID, containerID, vncHost string, vncPort int, novncURL string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET vm_container_id = $2, vnc_host = $3, vnc_port = $4, novnc_url = $5, updated_at = NOW()
		WHERE id = $1
	`, sessionID, containerID, vncHost, vncPort, novncURL)
	if err != nil {
		return fmt.Errorf("update session vm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateSessionStatus transitions a session's status inside a transaction so
// the state machine check and the write are atomic against concurrent writers
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status types.Status, lastError string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current types.Status
	err = tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session status: %w", err)
	}
	if !types.CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current, status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET status = $2, last_error = COALESCE(NULLIF($3, ''), last_error), updated_at = NOW()
		WHERE id = $1
	`, sessionID, status, lastError)
	if err != nil {
		return fmt.Errorf("write session status: %w", err)
	}
	return tx.Commit(ctx)
}

// ListSessions returns all sessions, newest first
func (s *Store) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, COALESCE(vm_container_id,''), COALESCE(vnc_host,''),
		       COALESCE(vnc_port,0), COALESCE(novnc_url,''), COALESCE(last_error,''),
		       created_at, updated_at
		FROM sessions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// CreateMessage appends a message, assigning its sequence id
func (s *Store) CreateMessage(ctx context.Context, message *types.Message) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (session_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, message.SessionID, message.Role, message.Content)
	if err := row.Scan(&message.ID, &message.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves one message of a session
func (s *Store) GetMessage(ctx context.Context, sessionID string, messageID int64) (*types.Message, error) {
	m := &types.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = $1 AND id = $2
	`, sessionID, messageID).Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessages returns a session's messages in creation order
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m := &types.Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendEvent persists an event, assigning its id
func (s *Store) AppendEvent(ctx context.Context, event *types.Event) error {
	event.ID = uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO events (id, session_id, type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, event.ID, event.SessionID, event.Type, event.Payload)
	if err := row.Scan(&event.CreatedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events in ascending creation order
func (s *Store) RecentEvents(ctx context.Context, sessionID string, limit int) ([]*types.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, type, payload, created_at
		FROM events WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		ev := &types.Event{}
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; viewers want oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

func scanSession(row pgx.Row) (*types.Session, error) {
	session := &types.Session{}
	err := row.Scan(&session.ID, &session.Status, &session.VMContainerID, &session.VNCHost,
		&session.VNCPort, &session.NoVNCURL, &session.LastError,
		&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}
