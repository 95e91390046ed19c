package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id                 TEXT PRIMARY KEY,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	awaiting_response  INTEGER NOT NULL DEFAULT 0,
	last_question      TEXT,
	awaiting_slot_move TEXT,
	awaiting_slot_name TEXT,
	metadata           TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS turns (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id  TEXT NOT NULL,
	turn_num         INTEGER NOT NULL,
	timestamp        TEXT NOT NULL,
	user_input       TEXT NOT NULL,
	sanitized_input  TEXT NOT NULL,
	matched_move     TEXT,
	confidence       REAL NOT NULL,
	response         TEXT NOT NULL,
	extracted_params TEXT NOT NULL DEFAULT '{}',
	metadata         TEXT NOT NULL DEFAULT '{}',
	FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS extracted_context (
	conversation_id TEXT NOT NULL,
	key             TEXT NOT NULL,
	value           TEXT NOT NULL,
	PRIMARY KEY (conversation_id, key),
	FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS slots (
	conversation_id TEXT NOT NULL,
	move_id         TEXT NOT NULL,
	slot_name       TEXT NOT NULL,
	value           TEXT NOT NULL,
	slot_type       TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (conversation_id, move_id, slot_name)
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, turn_num);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`

// Fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore is the durable Storage.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conversationID string) (*PersistentState, error) {
	state := NewState(conversationID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`,
		conversationID, formatTime(state.CreatedAt), formatTime(state.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) LoadConversation(ctx context.Context, conversationID string) (*PersistentState, error) {
	var (
		created, updated string
		awaiting         int
		lastQ, slotMove  sql.NullString
		slotName         sql.NullString
		meta             string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at, awaiting_response, last_question,
		        awaiting_slot_move, awaiting_slot_name, metadata
		 FROM conversations WHERE id = ?`, conversationID,
	).Scan(&created, &updated, &awaiting, &lastQ, &slotMove, &slotName, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	state := &PersistentState{
		ConversationID:   conversationID,
		CreatedAt:        parseTime(created),
		UpdatedAt:        parseTime(updated),
		Turns:            []Turn{},
		ExtractedContext: make(map[string]any),
		AwaitingResponse: awaiting != 0,
		LastQuestion:     lastQ.String,
		AwaitingSlotMove: slotMove.String,
		AwaitingSlotName: slotName.String,
	}
	if err := decodeMap(meta, &state.Metadata); err != nil {
		return nil, err
	}

	if err := s.loadTurns(ctx, state); err != nil {
		return nil, err
	}
	if err := s.loadContext(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStore) loadTurns(ctx context.Context, state *PersistentState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_num, timestamp, user_input, sanitized_input, matched_move,
		        confidence, response, extracted_params, metadata
		 FROM turns WHERE conversation_id = ? ORDER BY turn_num`, state.ConversationID)
	if err != nil {
		return fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t          Turn
			ts         string
			move       sql.NullString
			params, md string
		)
		if err := rows.Scan(&t.TurnNum, &ts, &t.UserInput, &t.SanitizedInput, &move,
			&t.Confidence, &t.Response, &params, &md); err != nil {
			return fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp = parseTime(ts)
		t.MatchedMove = move.String
		if err := decodeMap(params, &t.ExtractedParams); err != nil {
			return err
		}
		if err := decodeMap(md, &t.Metadata); err != nil {
			return err
		}
		state.Turns = append(state.Turns, t)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadContext(ctx context.Context, state *PersistentState) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM extracted_context WHERE conversation_id = ?`, state.ConversationID)
	if err != nil {
		return fmt.Errorf("query context: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("scan context: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("decode context %s: %w", key, err)
		}
		state.ExtractedContext[key] = v
	}
	return rows.Err()
}

// SaveConversation upserts the conversation row, appends turns newer than
// the stored ones, and upserts the extracted context.
func (s *SQLiteStore) SaveConversation(ctx context.Context, state *PersistentState) error {
	meta, err := encode(state.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at, awaiting_response, last_question,
		                            awaiting_slot_move, awaiting_slot_name, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   awaiting_response = excluded.awaiting_response,
		   last_question = excluded.last_question,
		   awaiting_slot_move = excluded.awaiting_slot_move,
		   awaiting_slot_name = excluded.awaiting_slot_name,
		   metadata = excluded.metadata`,
		state.ConversationID, formatTime(state.CreatedAt), formatTime(state.UpdatedAt),
		boolInt(state.AwaitingResponse), nullString(state.LastQuestion),
		nullString(state.AwaitingSlotMove), nullString(state.AwaitingSlotName), meta,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_num), 0) FROM turns WHERE conversation_id = ?`, state.ConversationID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("query last turn: %w", err)
	}

	for _, t := range state.Turns {
		if t.TurnNum <= stored {
			continue
		}
		params, err := encode(t.ExtractedParams)
		if err != nil {
			return err
		}
		md, err := encode(t.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, turn_num, timestamp, user_input, sanitized_input,
			                    matched_move, confidence, response, extracted_params, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			state.ConversationID, t.TurnNum, formatTime(t.Timestamp), t.UserInput, t.SanitizedInput,
			nullString(t.MatchedMove), t.Confidence, t.Response, params, md,
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", t.TurnNum, err)
		}
	}

	for k, v := range state.ExtractedContext {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode context %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO extracted_context (conversation_id, key, value) VALUES (?, ?, ?)`,
			state.ConversationID, k, string(raw),
		); err != nil {
			return fmt.Errorf("save context %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// CleanupOldConversations deletes conversations not updated within
// olderThan, with their turns, context and slots.
func (s *SQLiteStore) CleanupOldConversations(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := formatTime(time.Now().UTC().Add(-olderThan))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list old conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list old conversations: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE conversation_id = ?`, id); err != nil {
			return nil, fmt.Errorf("cleanup slots: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("cleanup conversations: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) GetSlot(ctx context.Context, conversationID, moveID, name string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM slots WHERE conversation_id = ? AND move_id = ? AND slot_name = ?`,
		conversationID, moveID, name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query slot: %w", err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("decode slot %s: %w", name, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) SaveSlot(ctx context.Context, conversationID, moveID, name string, value any, slotType string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO slots (conversation_id, move_id, slot_name, value, slot_type, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, moveID, name, string(raw), slotType, formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("save slot %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) GetAllSlotsForMove(ctx context.Context, conversationID, moveID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot_name, value FROM slots WHERE conversation_id = ? AND move_id = ?`,
		conversationID, moveID)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode slot %s: %w", name, err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearSlotsForMove(ctx context.Context, conversationID, moveID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM slots WHERE conversation_id = ? AND move_id = ?`, conversationID, moveID)
	if err != nil {
		return fmt.Errorf("clear slots: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func encode(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(raw), nil
}

func decodeMap(raw string, dst *map[string]any) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
