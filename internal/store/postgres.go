package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists everything in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			page_count INT NOT NULL DEFAULT 1,
			total_problems INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS questions (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			number INT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			parts JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS answer_keys (
			id BIGSERIAL PRIMARY KEY,
			question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			part_label TEXT,
			answer TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS question_figures (
			id BIGSERIAL PRIMARY KEY,
			question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			image BYTEA NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'image/png'
		);`,
		`CREATE TABLE IF NOT EXISTS session_question_cache (
			session_id TEXT PRIMARY KEY,
			question_id BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS page_transcriptions (
			session_id TEXT NOT NULL,
			page INT NOT NULL,
			latex TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			line_data JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, page)
		);`,
		`CREATE TABLE IF NOT EXISTS reasoning_logs (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			page INT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			internal_reasoning TEXT NOT NULL DEFAULT '',
			prompt_tokens INT NOT NULL DEFAULT 0,
			completion_tokens INT NOT NULL DEFAULT 0,
			estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			delay_ms INT NOT NULL DEFAULT 0,
			source TEXT,
			question_text TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS stroke_logs (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			page INT NOT NULL,
			strokes JSONB NOT NULL DEFAULT '[]',
			event_type TEXT NOT NULL,
			deleted_count INT NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stroke_logs_key ON stroke_logs (session_id, page, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_reasoning_logs_key ON reasoning_logs (session_id, page, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, filename string, pageCount, totalProblems int) (int64, error) {
	if pageCount <= 0 {
		pageCount = 1
	}
	if totalProblems <= 0 {
		totalProblems = 1
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (filename, page_count, total_problems) VALUES ($1, $2, $3) RETURNING id`,
		filename, pageCount, totalProblems,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertQuestion(ctx context.Context, q Question) (int64, error) {
	parts := q.Parts
	if parts == nil {
		parts = []QuestionPart{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return 0, fmt.Errorf("marshal question parts: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO questions (document_id, number, label, text, parts)
		 VALUES ($1, $2, $3, $4, $5::jsonb) RETURNING id`,
		q.DocumentID, q.Number, q.Label, q.Text, string(partsJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertAnswerKey(ctx context.Context, questionID int64, partLabel, answer string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answer_keys (question_id, part_label, answer) VALUES ($1, NULLIF($2, ''), $3)`,
		questionID, partLabel, answer,
	)
	if err != nil {
		return fmt.Errorf("insert answer key: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFigure(ctx context.Context, questionID int64, image []byte, mime string) error {
	if mime == "" {
		mime = "image/png"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO question_figures (question_id, image, mime_type) VALUES ($1, $2, $3)`,
		questionID, image, mime,
	)
	if err != nil {
		return fmt.Errorf("insert figure: %w", err)
	}
	return nil
}

// docStem strips the final extension so "hw3.pdf" and "hw3" match.
func docStem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

func (s *PostgresStore) QuestionByNumber(ctx context.Context, documentName string, number int) (*Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT q.id, q.document_id, q.number, q.label, q.text, q.parts::text
		 FROM questions q
		 JOIN documents d ON d.id = q.document_id
		 WHERE regexp_replace(d.filename, '\.[^.]*$', '') = $1 AND q.number = $2
		 ORDER BY q.id DESC LIMIT 1`,
		docStem(documentName), number,
	)
	return scanQuestion(row)
}

func (s *PostgresStore) QuestionByID(ctx context.Context, id int64) (*Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, document_id, number, label, text, parts::text FROM questions WHERE id = $1`,
		id,
	)
	return scanQuestion(row)
}

func scanQuestion(row pgx.Row) (*Question, error) {
	var q Question
	var partsJSON string
	err := row.Scan(&q.ID, &q.DocumentID, &q.Number, &q.Label, &q.Text, &partsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal([]byte(partsJSON), &q.Parts); err != nil {
		return nil, fmt.Errorf("decode question parts: %w", err)
	}
	return &q, nil
}

func (s *PostgresStore) AnswerKeys(ctx context.Context, questionID int64) ([]AnswerKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(part_label, ''), answer FROM answer_keys WHERE question_id = $1 ORDER BY id`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query answer keys: %w", err)
	}
	defer rows.Close()

	var keys []AnswerKey
	for rows.Next() {
		var k AnswerKey
		if err := rows.Scan(&k.PartLabel, &k.Answer); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) Figures(ctx context.Context, questionID int64) ([]Figure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT image, mime_type FROM question_figures WHERE question_id = $1 ORDER BY id`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query figures: %w", err)
	}
	defer rows.Close()

	var figs []Figure
	for rows.Next() {
		var f Figure
		if err := rows.Scan(&f.Data, &f.MIME); err != nil {
			return nil, fmt.Errorf("scan figure: %w", err)
		}
		figs = append(figs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate figures: %w", err)
	}
	return figs, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) CacheSessionQuestion(ctx context.Context, sessionID string, questionID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_question_cache (session_id, question_id, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (session_id) DO UPDATE SET question_id = EXCLUDED.question_id, updated_at = now()`,
		sessionID, questionID,
	)
	if err != nil {
		return fmt.Errorf("cache session question: %w", err)
	}
	return nil
}

func (s *PostgresStore) CachedQuestionID(ctx context.Context, sessionID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT question_id FROM session_question_cache WHERE session_id = $1`,
		sessionID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query session question: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertStrokeLog(ctx context.Context, rec StrokeLog) (int64, error) {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	strokes := rec.Strokes
	if len(strokes) == 0 {
		strokes = json.RawMessage(`[]`)
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stroke_logs (session_id, page, strokes, event_type, deleted_count, message, user_id, received_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8) RETURNING id`,
		rec.SessionID, rec.Page, string(strokes), rec.EventType, rec.DeletedCount, rec.Message, rec.UserID, rec.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stroke log: %w", err)
	}
	return id, nil
}

// InkEvents returns the page's draw and erase events in arrival order.
func (s *PostgresStore) InkEvents(ctx context.Context, sessionID string, page int) ([]StrokeLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, page, strokes::text, event_type, deleted_count, message, user_id, received_at
		 FROM stroke_logs
		 WHERE session_id = $1 AND page = $2 AND event_type IN ('draw', 'erase')
		 ORDER BY received_at ASC, id ASC`,
		sessionID, page,
	)
	if err != nil {
		return nil, fmt.Errorf("query ink events: %w", err)
	}
	defer rows.Close()
	return collectStrokeLogs(rows)
}

func (s *PostgresStore) StrokeLogs(ctx context.Context, f StrokeFilter) ([]StrokeLog, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []any
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if f.Page != nil {
		args = append(args, *f.Page)
		conds = append(conds, fmt.Sprintf("page = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stroke_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stroke logs: %w", err)
	}

	args = append(args, limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, page, strokes::text, event_type, deleted_count, message, user_id, received_at
		 FROM stroke_logs`+where+fmt.Sprintf(" ORDER BY received_at DESC, id DESC LIMIT $%d", len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query stroke logs: %w", err)
	}
	defer rows.Close()

	logs, err := collectStrokeLogs(rows)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func collectStrokeLogs(rows pgx.Rows) ([]StrokeLog, error) {
	var logs []StrokeLog
	for rows.Next() {
		var r StrokeLog
		var strokes string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Page, &strokes, &r.EventType, &r.DeletedCount, &r.Message, &r.UserID, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan stroke log: %w", err)
		}
		r.Strokes = json.RawMessage(strokes)
		logs = append(logs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stroke logs: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) ClearPage(ctx context.Context, sessionID string, page int) error {
	stmts := []string{
		`DELETE FROM stroke_logs WHERE session_id = $1 AND page = $2`,
		`DELETE FROM page_transcriptions WHERE session_id = $1 AND page = $2`,
		`DELETE FROM reasoning_logs WHERE session_id = $1 AND page = $2`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt, sessionID, page); err != nil {
			return fmt.Errorf("clear page: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) PurgeSession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stroke_logs WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("purge stroke logs: %w", err)
	}
	deleted := tag.RowsAffected()
	if _, err := s.pool.Exec(ctx, `DELETE FROM page_transcriptions WHERE session_id = $1`, sessionID); err != nil {
		return deleted, fmt.Errorf("purge transcriptions: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM reasoning_logs WHERE session_id = $1`, sessionID); err != nil {
		return deleted, fmt.Errorf("purge reasoning logs: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_question_cache WHERE session_id = $1`, sessionID); err != nil {
		return deleted, fmt.Errorf("purge question cache: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) PurgeAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stroke_logs`)
	if err != nil {
		return 0, fmt.Errorf("purge stroke logs: %w", err)
	}
	deleted := tag.RowsAffected()
	if _, err := s.pool.Exec(ctx, `DELETE FROM page_transcriptions`); err != nil {
		return deleted, fmt.Errorf("purge transcriptions: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM reasoning_logs`); err != nil {
		return deleted, fmt.Errorf("purge reasoning logs: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_question_cache`); err != nil {
		return deleted, fmt.Errorf("purge question cache: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) UpsertTranscription(ctx context.Context, rec PageTranscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO page_transcriptions (session_id, page, latex, text, confidence, line_data, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::jsonb, now())
		 ON CONFLICT (session_id, page) DO UPDATE
		 SET latex = EXCLUDED.latex, text = EXCLUDED.text, confidence = EXCLUDED.confidence,
		     line_data = EXCLUDED.line_data, updated_at = now()`,
		rec.SessionID, rec.Page, rec.LaTeX, rec.Text, rec.Confidence, string(rec.LineData),
	)
	if err != nil {
		return fmt.Errorf("upsert transcription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Transcription(ctx context.Context, sessionID string, page int) (*PageTranscription, error) {
	var rec PageTranscription
	var lineData string
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, page, latex, text, confidence, COALESCE(line_data::text, ''), updated_at
		 FROM page_transcriptions WHERE session_id = $1 AND page = $2`,
		sessionID, page,
	).Scan(&rec.SessionID, &rec.Page, &rec.LaTeX, &rec.Text, &rec.Confidence, &lineData, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transcription: %w", err)
	}
	if lineData != "" {
		rec.LineData = json.RawMessage(lineData)
	}
	return &rec, nil
}

func (s *PostgresStore) InsertReasoningLog(ctx context.Context, rec ReasoningLog) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reasoning_logs
		 (session_id, page, context, action, message, internal_reasoning,
		  prompt_tokens, completion_tokens, estimated_cost, delay_ms, source, question_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13)
		 RETURNING id`,
		rec.SessionID, rec.Page, rec.Context, rec.Action, rec.Message, rec.InternalReasoning,
		rec.PromptTokens, rec.CompletionTokens, rec.EstimatedCost, rec.DelayMS, rec.Source, rec.QuestionText, rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reasoning log: %w", err)
	}
	return id, nil
}

// RecentReasoning returns the page's last decisions in chronological order.
func (s *PostgresStore) RecentReasoning(ctx context.Context, sessionID string, page, limit int) ([]ReasoningLog, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		reasoningSelect+` WHERE session_id = $1 AND page = $2 ORDER BY created_at DESC, id DESC LIMIT $3`,
		sessionID, page, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent reasoning: %w", err)
	}
	defer rows.Close()

	items, err := collectReasoningLogs(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) ReasoningLogs(ctx context.Context, sessionID string, limit int) ([]ReasoningLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows pgx.Rows
	var err error
	if sessionID == "" {
		rows, err = s.pool.Query(ctx, reasoningSelect+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, reasoningSelect+` WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query reasoning logs: %w", err)
	}
	defer rows.Close()
	return collectReasoningLogs(rows)
}

const reasoningSelect = `SELECT id, session_id, page, context, action, message, internal_reasoning,
	prompt_tokens, completion_tokens, estimated_cost, delay_ms,
	COALESCE(source, ''), COALESCE(question_text, ''), created_at
	FROM reasoning_logs`

func collectReasoningLogs(rows pgx.Rows) ([]ReasoningLog, error) {
	var items []ReasoningLog
	for rows.Next() {
		var r ReasoningLog
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Page, &r.Context, &r.Action, &r.Message, &r.InternalReasoning,
			&r.PromptTokens, &r.CompletionTokens, &r.EstimatedCost, &r.DelayMS, &r.Source, &r.QuestionText, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reasoning log: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reasoning logs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ReasoningUsage(ctx context.Context, sessionID string) (Usage, error) {
	var u Usage
	var err error
	if sessionID == "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(estimated_cost), 0)
			 FROM reasoning_logs`,
		).Scan(&u.Calls, &u.PromptTokens, &u.CompletionTokens, &u.EstimatedCost)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(estimated_cost), 0)
			 FROM reasoning_logs WHERE session_id = $1`,
			sessionID,
		).Scan(&u.Calls, &u.PromptTokens, &u.CompletionTokens, &u.EstimatedCost)
	}
	if err != nil {
		return Usage{}, fmt.Errorf("query reasoning usage: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
