package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pageKey struct {
	sessionID string
	page      int
}

// MemoryStore is a simple in-process store for local/dev use and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64

	documents        map[int64]string // id -> filename
	questions        map[int64]Question
	answerKeys       map[int64][]AnswerKey
	figures          map[int64][]Figure
	sessionQuestions map[string]int64
	strokes          []StrokeLog
	transcriptions   map[pageKey]PageTranscription
	reasoning        []ReasoningLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:        make(map[int64]string),
		questions:        make(map[int64]Question),
		answerKeys:       make(map[int64][]AnswerKey),
		figures:          make(map[int64][]Figure),
		sessionQuestions: make(map[string]int64),
		transcriptions:   make(map[pageKey]PageTranscription),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) InsertDocument(_ context.Context, filename string, _, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.documents[id] = filename
	return id, nil
}

func (s *MemoryStore) InsertQuestion(_ context.Context, q Question) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = s.id()
	if q.Parts == nil {
		q.Parts = []QuestionPart{}
	}
	s.questions[q.ID] = q
	return q.ID, nil
}

func (s *MemoryStore) InsertAnswerKey(_ context.Context, questionID int64, partLabel, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerKeys[questionID] = append(s.answerKeys[questionID], AnswerKey{PartLabel: partLabel, Answer: answer})
	return nil
}

func (s *MemoryStore) InsertFigure(_ context.Context, questionID int64, image []byte, mime string) error {
	if mime == "" {
		mime = "image/png"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.figures[questionID] = append(s.figures[questionID], Figure{Data: image, MIME: mime})
	return nil
}

func (s *MemoryStore) QuestionByNumber(_ context.Context, documentName string, number int) (*Question, error) {
	stem := docStem(documentName)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Question
	for id, q := range s.questions {
		if q.Number != number {
			continue
		}
		filename, ok := s.documents[q.DocumentID]
		if !ok || docStem(filename) != stem {
			continue
		}
		if best == nil || id > best.ID {
			qq := cloneQuestion(q)
			best = &qq
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) QuestionByID(_ context.Context, id int64) (*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	qq := cloneQuestion(q)
	return &qq, nil
}

func cloneQuestion(q Question) Question {
	parts := make([]QuestionPart, len(q.Parts))
	copy(parts, q.Parts)
	q.Parts = parts
	return q
}

func (s *MemoryStore) AnswerKeys(_ context.Context, questionID int64) ([]AnswerKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.answerKeys[questionID]
	out := make([]AnswerKey, len(keys))
	copy(out, keys)
	return out, nil
}

func (s *MemoryStore) Figures(_ context.Context, questionID int64) ([]Figure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	figs := s.figures[questionID]
	out := make([]Figure, len(figs))
	copy(out, figs)
	return out, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	for qid, q := range s.questions {
		if q.DocumentID == id {
			delete(s.questions, qid)
			delete(s.answerKeys, qid)
			delete(s.figures, qid)
		}
	}
	return nil
}

func (s *MemoryStore) CacheSessionQuestion(_ context.Context, sessionID string, questionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionQuestions[sessionID] = questionID
	return nil
}

func (s *MemoryStore) CachedQuestionID(_ context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionQuestions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) InsertStrokeLog(_ context.Context, rec StrokeLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	s.strokes = append(s.strokes, rec)
	return rec.ID, nil
}

func (s *MemoryStore) InkEvents(_ context.Context, sessionID string, page int) ([]StrokeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StrokeLog
	for _, r := range s.strokes {
		if r.SessionID == sessionID && r.Page == page && (r.EventType == EventDraw || r.EventType == EventErase) {
			out = append(out, r)
		}
	}
	sortStrokeLogs(out, false)
	return out, nil
}

func (s *MemoryStore) StrokeLogs(_ context.Context, f StrokeFilter) ([]StrokeLog, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []StrokeLog
	for _, r := range s.strokes {
		if f.SessionID != "" && r.SessionID != f.SessionID {
			continue
		}
		if f.Page != nil && r.Page != *f.Page {
			continue
		}
		matched = append(matched, r)
	}
	total := int64(len(matched))
	sortStrokeLogs(matched, true)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func sortStrokeLogs(logs []StrokeLog, newestFirst bool) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if newestFirst {
				return a.ReceivedAt.After(b.ReceivedAt)
			}
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

func (s *MemoryStore) ClearPage(_ context.Context, sessionID string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strokes = filterStrokes(s.strokes, func(r StrokeLog) bool {
		return !(r.SessionID == sessionID && r.Page == page)
	})
	delete(s.transcriptions, pageKey{sessionID, page})
	kept := s.reasoning[:0]
	for _, r := range s.reasoning {
		if !(r.SessionID == sessionID && r.Page == page) {
			kept = append(kept, r)
		}
	}
	s.reasoning = kept
	return nil
}

func (s *MemoryStore) PurgeSession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.strokes)
	s.strokes = filterStrokes(s.strokes, func(r StrokeLog) bool { return r.SessionID != sessionID })
	deleted := int64(before - len(s.strokes))

	for k := range s.transcriptions {
		if k.sessionID == sessionID {
			delete(s.transcriptions, k)
		}
	}
	kept := s.reasoning[:0]
	for _, r := range s.reasoning {
		if r.SessionID != sessionID {
			kept = append(kept, r)
		}
	}
	s.reasoning = kept
	delete(s.sessionQuestions, sessionID)
	return deleted, nil
}

func (s *MemoryStore) PurgeAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := int64(len(s.strokes))
	s.strokes = nil
	s.transcriptions = make(map[pageKey]PageTranscription)
	s.reasoning = nil
	s.sessionQuestions = make(map[string]int64)
	return deleted, nil
}

func filterStrokes(logs []StrokeLog, keep func(StrokeLog) bool) []StrokeLog {
	out := logs[:0]
	for _, r := range logs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) UpsertTranscription(_ context.Context, rec PageTranscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	s.transcriptions[pageKey{rec.SessionID, rec.Page}] = rec
	return nil
}

func (s *MemoryStore) Transcription(_ context.Context, sessionID string, page int) (*PageTranscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transcriptions[pageKey{sessionID, page}]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) InsertReasoningLog(_ context.Context, rec ReasoningLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.reasoning = append(s.reasoning, rec)
	return rec.ID, nil
}

func (s *MemoryStore) RecentReasoning(_ context.Context, sessionID string, page, limit int) ([]ReasoningLog, error) {
	if limit <= 0 {
		limit = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []ReasoningLog
	for _, r := range s.reasoning {
		if r.SessionID == sessionID && r.Page == page {
			matched = append(matched, r)
		}
	}
	sortReasoningLogs(matched, false)
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *MemoryStore) ReasoningLogs(_ context.Context, sessionID string, limit int) ([]ReasoningLog, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []ReasoningLog
	for _, r := range s.reasoning {
		if sessionID == "" || r.SessionID == sessionID {
			matched = append(matched, r)
		}
	}
	sortReasoningLogs(matched, true)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func sortReasoningLogs(logs []ReasoningLog, newestFirst bool) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

func (s *MemoryStore) ReasoningUsage(_ context.Context, sessionID string) (Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u Usage
	for _, r := range s.reasoning {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		u.Calls++
		u.PromptTokens += int64(r.PromptTokens)
		u.CompletionTokens += int64(r.CompletionTokens)
		u.EstimatedCost += r.EstimatedCost
	}
	return u, nil
}

func (s *MemoryStore) Close() error { return nil }
