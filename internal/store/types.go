// Package store persists stroke history, page transcriptions, tutor
// decisions and the problem bank.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Stroke event types recorded in the stroke log.
const (
	EventDraw   = "draw"
	EventErase  = "erase"
	EventClear  = "clear"
	EventSystem = "system"
	EventVoice  = "voice"
)

// SourceVoiceQuestion marks reasoning rows produced by a spoken question;
// rows produced by watching the page carry an empty source.
const SourceVoiceQuestion = "voice_question"

// StrokeLog is one stroke event as received from the client.
type StrokeLog struct {
	ID           int64           `json:"id"`
	SessionID    string          `json:"session_id"`
	Page         int             `json:"page"`
	Strokes      json.RawMessage `json:"strokes"`
	EventType    string          `json:"event_type"`
	DeletedCount int             `json:"deleted_count"`
	Message      string          `json:"message"`
	UserID       string          `json:"user_id"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// StrokeFilter narrows StrokeLogs queries.
type StrokeFilter struct {
	SessionID string
	Page      *int
	Limit     int
}

// PageTranscription is the recognizer's latest reading of one page.
type PageTranscription struct {
	SessionID  string          `json:"session_id"`
	Page       int             `json:"page"`
	LaTeX      string          `json:"latex"`
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	LineData   json.RawMessage `json:"line_data,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ReasoningLog records one tutor decision. Source is empty for decisions
// triggered by writing and "voice_question" for spoken questions.
type ReasoningLog struct {
	ID                int64     `json:"id"`
	SessionID         string    `json:"session_id"`
	Page              int       `json:"page"`
	Context           string    `json:"context"`
	Action            string    `json:"action"`
	Message           string    `json:"message"`
	InternalReasoning string    `json:"internal_reasoning"`
	PromptTokens      int       `json:"prompt_tokens"`
	CompletionTokens  int       `json:"completion_tokens"`
	EstimatedCost     float64   `json:"estimated_cost"`
	DelayMS           int       `json:"delay_ms"`
	Source            string    `json:"source,omitempty"`
	QuestionText      string    `json:"question_text,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Usage aggregates reasoning spend.
type Usage struct {
	Calls            int64   `json:"calls"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// QuestionPart is one labeled sub-part of a problem.
type QuestionPart struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is a problem statement, optionally split into parts.
type Question struct {
	ID         int64          `json:"id"`
	DocumentID int64          `json:"document_id"`
	Number     int            `json:"number"`
	Label      string         `json:"label"`
	Text       string         `json:"text"`
	Parts      []QuestionPart `json:"parts"`
}

// AnswerKey is the expected answer for a question or one of its parts.
// An empty PartLabel means the key covers the whole question.
type AnswerKey struct {
	PartLabel string `json:"part_label,omitempty"`
	Answer    string `json:"answer"`
}

// Figure is an image attached to a question.
type Figure struct {
	Data []byte `json:"-"`
	MIME string `json:"mime_type"`
}

// Store is the persistence surface of the service.
type Store interface {
	// Problem bank.
	InsertDocument(ctx context.Context, filename string, pageCount, totalProblems int) (int64, error)
	InsertQuestion(ctx context.Context, q Question) (int64, error)
	InsertAnswerKey(ctx context.Context, questionID int64, partLabel, answer string) error
	InsertFigure(ctx context.Context, questionID int64, image []byte, mime string) error
	QuestionByNumber(ctx context.Context, documentName string, number int) (*Question, error)
	QuestionByID(ctx context.Context, id int64) (*Question, error)
	AnswerKeys(ctx context.Context, questionID int64) ([]AnswerKey, error)
	Figures(ctx context.Context, questionID int64) ([]Figure, error)
	DeleteDocument(ctx context.Context, id int64) error

	// Session-to-question binding survives reconnects.
	CacheSessionQuestion(ctx context.Context, sessionID string, questionID int64) error
	CachedQuestionID(ctx context.Context, sessionID string) (int64, error)

	// Stroke history.
	InsertStrokeLog(ctx context.Context, rec StrokeLog) (int64, error)
	InkEvents(ctx context.Context, sessionID string, page int) ([]StrokeLog, error)
	StrokeLogs(ctx context.Context, f StrokeFilter) ([]StrokeLog, int64, error)
	ClearPage(ctx context.Context, sessionID string, page int) error
	// PurgeSession wipes every mutable row of the session, question
	// binding included. Returns how many stroke rows went away.
	PurgeSession(ctx context.Context, sessionID string) (int64, error)
	PurgeAll(ctx context.Context) (int64, error)

	// Page transcriptions.
	UpsertTranscription(ctx context.Context, rec PageTranscription) error
	Transcription(ctx context.Context, sessionID string, page int) (*PageTranscription, error)

	// Tutor decisions.
	InsertReasoningLog(ctx context.Context, rec ReasoningLog) (int64, error)
	RecentReasoning(ctx context.Context, sessionID string, page, limit int) ([]ReasoningLog, error)
	ReasoningLogs(ctx context.Context, sessionID string, limit int) ([]ReasoningLog, error)
	ReasoningUsage(ctx context.Context, sessionID string) (Usage, error)

	Close() error
}
