package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDocStem(t *testing.T) {
	cases := []struct{ in, want string }{
		{"hw3.pdf", "hw3"},
		{"hw3", "hw3"},
		{"week.2.notes.pdf", "week.2.notes"},
		{"sim_abc123", "sim_abc123"},
	}
	for _, c := range cases {
		if got := docStem(c.in); got != c.want {
			t.Errorf("docStem(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestQuestionLookupByDocumentStem(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	docID, err := s.InsertDocument(ctx, "worksheet.pdf", 1, 3)
	if err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	qID, err := s.InsertQuestion(ctx, Question{
		DocumentID: docID,
		Number:     2,
		Label:      "Q2",
		Text:       "Differentiate f(x) = x^2.",
		Parts: []QuestionPart{
			{Label: "a", Text: "Find f'(x)"},
			{Label: "b", Text: "Evaluate f'(3)"},
		},
	})
	if err != nil {
		t.Fatalf("InsertQuestion() error = %v", err)
	}

	for _, name := range []string{"worksheet.pdf", "worksheet", "worksheet.png"} {
		q, err := s.QuestionByNumber(ctx, name, 2)
		if err != nil {
			t.Fatalf("QuestionByNumber(%q) error = %v", name, err)
		}
		if q.ID != qID || len(q.Parts) != 2 {
			t.Fatalf("QuestionByNumber(%q) = %+v", name, q)
		}
	}

	if _, err := s.QuestionByNumber(ctx, "worksheet", 9); err != ErrNotFound {
		t.Fatalf("missing number error = %v, want ErrNotFound", err)
	}
	if _, err := s.QuestionByNumber(ctx, "otherdoc", 2); err != ErrNotFound {
		t.Fatalf("other document error = %v, want ErrNotFound", err)
	}
}

func TestQuestionByNumberPrefersNewest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	docID, _ := s.InsertDocument(ctx, "hw", 1, 1)
	s.InsertQuestion(ctx, Question{DocumentID: docID, Number: 1, Text: "old"})
	newest, _ := s.InsertQuestion(ctx, Question{DocumentID: docID, Number: 1, Text: "new"})

	q, err := s.QuestionByNumber(ctx, "hw", 1)
	if err != nil {
		t.Fatalf("QuestionByNumber() error = %v", err)
	}
	if q.ID != newest || q.Text != "new" {
		t.Fatalf("got %+v, want newest question", q)
	}
}

func TestAnswerKeysAndFigures(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	docID, _ := s.InsertDocument(ctx, "hw", 1, 1)
	qID, _ := s.InsertQuestion(ctx, Question{DocumentID: docID, Number: 1})

	s.InsertAnswerKey(ctx, qID, "a", "2x")
	s.InsertAnswerKey(ctx, qID, "", "see work")
	s.InsertFigure(ctx, qID, []byte{0x89, 'P', 'N', 'G'}, "")

	keys, err := s.AnswerKeys(ctx, qID)
	if err != nil {
		t.Fatalf("AnswerKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0].PartLabel != "a" || keys[1].PartLabel != "" {
		t.Fatalf("keys = %+v", keys)
	}

	figs, err := s.Figures(ctx, qID)
	if err != nil {
		t.Fatalf("Figures() error = %v", err)
	}
	if len(figs) != 1 || figs[0].MIME != "image/png" {
		t.Fatalf("figs = %+v", figs)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	docID, _ := s.InsertDocument(ctx, "sim_x", 1, 1)
	qID, _ := s.InsertQuestion(ctx, Question{DocumentID: docID, Number: 1})
	s.InsertAnswerKey(ctx, qID, "", "42")

	if err := s.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if _, err := s.QuestionByID(ctx, qID); err != ErrNotFound {
		t.Fatalf("question survived document delete: %v", err)
	}
	keys, _ := s.AnswerKeys(ctx, qID)
	if len(keys) != 0 {
		t.Fatalf("answer keys survived document delete")
	}
}

func TestSessionQuestionCacheUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.CachedQuestionID(ctx, "s1"); err != ErrNotFound {
		t.Fatalf("empty cache error = %v, want ErrNotFound", err)
	}
	s.CacheSessionQuestion(ctx, "s1", 7)
	s.CacheSessionQuestion(ctx, "s1", 9)

	id, err := s.CachedQuestionID(ctx, "s1")
	if err != nil {
		t.Fatalf("CachedQuestionID() error = %v", err)
	}
	if id != 9 {
		t.Fatalf("cached id = %d, want 9 (upsert must overwrite)", id)
	}
}

func TestInkEventsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	put := func(eventType string, page int, at time.Time) {
		s.InsertStrokeLog(ctx, StrokeLog{
			SessionID: "s1", Page: page, EventType: eventType,
			Strokes: json.RawMessage(`[{"points":[{"x":1,"y":2}]}]`), ReceivedAt: at,
		})
	}
	put(EventDraw, 1, base.Add(2*time.Second))
	put(EventErase, 1, base.Add(3*time.Second))
	put(EventDraw, 1, base.Add(1*time.Second))
	put(EventSystem, 1, base)           // never part of ink replay
	put(EventVoice, 1, base)            // never part of ink replay
	put(EventDraw, 2, base)             // other page
	s.InsertStrokeLog(ctx, StrokeLog{SessionID: "s2", Page: 1, EventType: EventDraw, ReceivedAt: base})

	events, err := s.InkEvents(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("InkEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	wantOrder := []string{EventDraw, EventDraw, EventErase}
	for i, e := range events {
		if e.EventType != wantOrder[i] {
			t.Fatalf("event %d = %s, want %s", i, e.EventType, wantOrder[i])
		}
	}
	if !events[0].ReceivedAt.Before(events[1].ReceivedAt) {
		t.Fatalf("events not chronological")
	}
}

func TestStrokeLogsNewestFirstWithTotal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.InsertStrokeLog(ctx, StrokeLog{
			SessionID: "s1", Page: 1, EventType: EventDraw,
			Message: string(rune('a' + i)), ReceivedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	logs, total, err := s.StrokeLogs(ctx, StrokeFilter{SessionID: "s1", Limit: 3})
	if err != nil {
		t.Fatalf("StrokeLogs() error = %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(logs) != 3 {
		t.Fatalf("len = %d, want 3", len(logs))
	}
	if logs[0].Message != "e" || logs[2].Message != "c" {
		t.Fatalf("order = [%s %s %s], want newest first", logs[0].Message, logs[1].Message, logs[2].Message)
	}

	page := 2
	_, total, _ = s.StrokeLogs(ctx, StrokeFilter{SessionID: "s1", Page: &page})
	if total != 0 {
		t.Fatalf("page filter total = %d, want 0", total)
	}
}

func TestClearPageScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertStrokeLog(ctx, StrokeLog{SessionID: "s1", Page: 1, EventType: EventDraw})
	s.InsertStrokeLog(ctx, StrokeLog{SessionID: "s1", Page: 2, EventType: EventDraw})
	s.UpsertTranscription(ctx, PageTranscription{SessionID: "s1", Page: 1, Text: "x"})
	s.UpsertTranscription(ctx, PageTranscription{SessionID: "s1", Page: 2, Text: "y"})
	s.InsertReasoningLog(ctx, ReasoningLog{SessionID: "s1", Page: 1, Action: "silent"})

	if err := s.ClearPage(ctx, "s1", 1); err != nil {
		t.Fatalf("ClearPage() error = %v", err)
	}

	if ev, _ := s.InkEvents(ctx, "s1", 1); len(ev) != 0 {
		t.Fatalf("page 1 strokes survived clear")
	}
	if ev, _ := s.InkEvents(ctx, "s1", 2); len(ev) != 1 {
		t.Fatalf("page 2 strokes lost")
	}
	if _, err := s.Transcription(ctx, "s1", 1); err != ErrNotFound {
		t.Fatalf("page 1 transcription survived clear")
	}
	if _, err := s.Transcription(ctx, "s1", 2); err != nil {
		t.Fatalf("page 2 transcription lost: %v", err)
	}
	if logs, _ := s.RecentReasoning(ctx, "s1", 1, 10); len(logs) != 0 {
		t.Fatalf("page 1 reasoning survived clear")
	}
}

func TestPurgeSessionCountsStrokeRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertStrokeLog(ctx, StrokeLog{SessionID: "s1", Page: 1, EventType: EventDraw})
	s.InsertStrokeLog(ctx, StrokeLog{SessionID: "s1", Page: 2, EventType: EventVoice})
	s.InsertStrokeLog(ctx, StrokeLog{SessionID: "s2", Page: 1, EventType: EventDraw})
	s.CacheSessionQuestion(ctx, "s1", 7)

	deleted, err := s.PurgeSession(ctx, "s1")
	if err != nil {
		t.Fatalf("PurgeSession() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	_, total, _ := s.StrokeLogs(ctx, StrokeFilter{})
	if total != 1 {
		t.Fatalf("remaining total = %d, want 1", total)
	}
	if _, err := s.CachedQuestionID(ctx, "s1"); err != ErrNotFound {
		t.Fatalf("question binding survived purge: err = %v", err)
	}
}

func TestTranscriptionUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.UpsertTranscription(ctx, PageTranscription{SessionID: "s1", Page: 1, LaTeX: "x", Text: "x", Confidence: 0.5})
	s.UpsertTranscription(ctx, PageTranscription{SessionID: "s1", Page: 1, LaTeX: "x+1", Text: "x+1", Confidence: 0.9})

	rec, err := s.Transcription(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Transcription() error = %v", err)
	}
	if rec.LaTeX != "x+1" || rec.Confidence != 0.9 {
		t.Fatalf("rec = %+v, want overwritten values", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not set")
	}
}

func TestRecentReasoningChronologicalWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		s.InsertReasoningLog(ctx, ReasoningLog{
			SessionID: "s1", Page: 1, Action: "silent",
			Message:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	logs, err := s.RecentReasoning(ctx, "s1", 1, 5)
	if err != nil {
		t.Fatalf("RecentReasoning() error = %v", err)
	}
	if len(logs) != 5 {
		t.Fatalf("len = %d, want 5", len(logs))
	}
	if logs[0].Message != "c" || logs[4].Message != "g" {
		t.Fatalf("window = %s..%s, want c..g chronological", logs[0].Message, logs[4].Message)
	}
}

func TestReasoningLogsAndUsage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertReasoningLog(ctx, ReasoningLog{SessionID: "s1", Page: 1, Action: "speak", PromptTokens: 100, CompletionTokens: 40, EstimatedCost: 0.001})
	s.InsertReasoningLog(ctx, ReasoningLog{SessionID: "s1", Page: 1, Action: "silent", PromptTokens: 50, CompletionTokens: 10, EstimatedCost: 0.0005})
	s.InsertReasoningLog(ctx, ReasoningLog{SessionID: "s2", Page: 1, Action: "speak", PromptTokens: 9, CompletionTokens: 9, EstimatedCost: 0.1})

	logs, err := s.ReasoningLogs(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ReasoningLogs() error = %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "silent" {
		t.Fatalf("logs = %+v, want newest first", logs)
	}

	u, err := s.ReasoningUsage(ctx, "s1")
	if err != nil {
		t.Fatalf("ReasoningUsage() error = %v", err)
	}
	if u.Calls != 2 || u.PromptTokens != 150 || u.CompletionTokens != 50 {
		t.Fatalf("usage = %+v", u)
	}

	all, _ := s.ReasoningUsage(ctx, "")
	if all.Calls != 3 {
		t.Fatalf("global usage calls = %d, want 3", all.Calls)
	}
}
