package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/EdenLuski/back/pkg/types"
)

// Store is the durable keyed storage of one room document per code block id.
// All mutation goes through Upsert/Update, which hold a per-room lock across
// a read-modify-write transaction. That is the only sanctioned mutation path
// and it is what keeps concurrent events on the same room from losing
// updates; events on different rooms never contend on each other's lock.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// Open opens (or creates) the SQLite database at path and ensures the
// schema exists. Schema creation is retried with exponential backoff so a
// slow volume at startup does not kill the process.
func Open(path string, logger *zap.Logger) (*Store, error) {
	// _txlock=immediate makes read-modify-write transactions take the write
	// lock up front, so concurrent writers queue on the busy timeout instead
	// of failing with a snapshot conflict.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(func() error { return createSchema(db) }, policy); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the database. In-flight operations finish first because
// they hold their room lock; new operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

// roomLock returns the mutex serializing a single room's mutations.
func (s *Store) roomLock(roomID string) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[roomID] = lock
	}
	return lock, nil
}

// Get returns a snapshot of the room, or types.ErrRoomNotFound.
func (s *Store) Get(ctx context.Context, roomID string) (*types.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, solution, mentor_id, participants
		FROM code_blocks WHERE id = ?`, roomID)

	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrRoomNotFound
	}
	if err != nil {
		return nil, storageErr("get room", err)
	}
	return room, nil
}

// List returns all rooms ordered by id, numeric ids first in numeric order.
func (s *Store) List(ctx context.Context) ([]*types.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, solution, mentor_id, participants
		FROM code_blocks ORDER BY CAST(id AS INTEGER), id`)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	defer rows.Close()

	var rooms []*types.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, storageErr("scan room", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list rooms", err)
	}
	return rooms, nil
}

// Upsert applies the mutator atomically to the current document, creating a
// defaulted room first if the id is unknown, and persists the result before
// returning it. A non-nil error from the mutator rolls the transaction back
// and is returned unchanged, leaving the room untouched.
func (s *Store) Upsert(ctx context.Context, roomID string, mutator func(*types.Room) error) (*types.Room, error) {
	return s.readModifyWrite(ctx, roomID, true, mutator)
}

// Update is Upsert for rooms that must already exist; an unknown id yields
// types.ErrRoomNotFound with no state change.
func (s *Store) Update(ctx context.Context, roomID string, mutator func(*types.Room) error) (*types.Room, error) {
	return s.readModifyWrite(ctx, roomID, false, mutator)
}

func (s *Store) readModifyWrite(ctx context.Context, roomID string, createIfMissing bool, mutator func(*types.Room) error) (*types.Room, error) {
	lock, err := s.roomLock(roomID)
	if err != nil {
		return nil, storageErr("lock room", err)
	}
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, code, solution, mentor_id, participants
		FROM code_blocks WHERE id = ?`, roomID)

	room, err := scanRoom(row)
	switch {
	case err == sql.ErrNoRows:
		if !createIfMissing {
			return nil, types.ErrRoomNotFound
		}
		room = types.NewRoom(roomID, "Block "+roomID)
	case err != nil:
		return nil, storageErr("read room", err)
	}

	if err := mutator(room); err != nil {
		return nil, err
	}

	participants, err := json.Marshal(room.Participants)
	if err != nil {
		return nil, storageErr("encode participants", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO code_blocks (id, name, code, solution, mentor_id, participants, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			solution = excluded.solution,
			mentor_id = excluded.mentor_id,
			participants = excluded.participants,
			updated_at = excluded.updated_at`,
		room.ID, room.Name, room.Code, room.Solution, room.MentorID, string(participants))
	if err != nil {
		return nil, storageErr("write room", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit room", err)
	}

	s.logger.Debug("room persisted",
		zap.String("room", room.ID),
		zap.String("mentor", room.MentorID),
		zap.Int("participants", len(room.Participants)))

	return room.Clone(), nil
}

// Seed inserts the given rooms if their ids are not present yet. Existing
// rooms are left alone so restarts do not clobber live documents.
func (s *Store) Seed(ctx context.Context, rooms []*types.Room) error {
	for _, room := range rooms {
		participants, err := json.Marshal(room.Participants)
		if err != nil {
			return storageErr("encode participants", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO code_blocks (id, name, code, solution, mentor_id, participants)
			VALUES (?, ?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.Code, room.Solution, room.MentorID, string(participants))
		if err != nil {
			return storageErr("seed room", err)
		}
	}
	s.logger.Info("seeded demo rooms", zap.Int("count", len(rooms)))
	return nil
}

// ResetEphemeral returns every room that still carries membership from a
// previous process to its rest state. Mentor and participant ids are
// connection-scoped, so after a restart they can never reconnect; without
// this a room would keep a ghost mentor forever and demote every future
// joiner to student. Names and solutions survive, the code buffer resets
// with the membership exactly as a mentor departure would reset it.
func (s *Store) ResetEphemeral(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE code_blocks
		SET mentor_id = '', participants = '[]', code = ?, updated_at = CURRENT_TIMESTAMP
		WHERE mentor_id != '' OR participants != '[]'`, types.DefaultCode)
	if err != nil {
		return storageErr("reset ephemeral state", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("cleared stale room membership", zap.Int64("rooms", n))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*types.Room, error) {
	var room types.Room
	var participants string

	err := row.Scan(&room.ID, &room.Name, &room.Code, &room.Solution, &room.MentorID, &participants)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &room.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants for room %s: %w", room.ID, err)
	}
	return &room, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrStorageUnavailable, op, err)
}
