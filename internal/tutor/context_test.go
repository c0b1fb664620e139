package tutor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
)

func findSection(cx Context, title string) (Section, bool) {
	for _, s := range cx.Sections {
		if s.Title == title {
			return s, true
		}
	}
	return Section{}, false
}

// seedProblem loads a three-part question with per-part answer keys and one
// figure, returning the question id.
func seedProblem(t *testing.T, env *testEnv) int64 {
	t.Helper()
	ctx := context.Background()
	docID, err := env.store.InsertDocument(ctx, "worksheet.pdf", 2, 5)
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	qid, err := env.store.InsertQuestion(ctx, store.Question{
		DocumentID: docID,
		Number:     3,
		Label:      "Problem 3",
		Text:       "Consider the function f(x) = x^2 - 4.",
		Parts: []store.QuestionPart{
			{Label: "a", Text: "Find the roots."},
			{Label: "b", Text: "Sketch the graph."},
			{Label: "c", Text: "State the vertex."},
		},
	})
	if err != nil {
		t.Fatalf("insert question: %v", err)
	}
	for _, k := range []struct{ label, answer string }{
		{"a", "x = 2 and x = -2"},
		{"b", "parabola opening upward"},
		{"c", "(0, -4)"},
	} {
		if err := env.store.InsertAnswerKey(ctx, qid, k.label, k.answer); err != nil {
			t.Fatalf("insert key %s: %v", k.label, err)
		}
	}
	if err := env.store.InsertFigure(ctx, qid, []byte{0x89, 'P', 'N', 'G'}, "image/png"); err != nil {
		t.Fatalf("insert figure: %v", err)
	}
	return qid
}

func TestBuildContextScopesToActivePart(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	qid := seedProblem(t, env)
	ctx := context.Background()

	env.registry.Connect(session.Session{
		ID:             "s1",
		DocumentName:   "worksheet.pdf",
		QuestionNumber: 3,
		PartLabel:      "b",
	})
	if err := env.store.UpsertTranscription(ctx, store.PageTranscription{
		SessionID: "s1", Page: 0, Text: "x = 2, x = -2", Confidence: 0.95,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cx, err := env.pipeline.BuildContext(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	work, ok := findSection(cx, "Student's Current Work (Part b)")
	if !ok {
		t.Fatalf("missing work section; have %+v", cx.Sections)
	}
	if work.Content != "x = 2, x = -2" {
		t.Fatalf("work = %q", work.Content)
	}

	problem, ok := findSection(cx, "Original Problem (Problem 3)")
	if !ok {
		t.Fatal("missing problem section")
	}
	if !strings.Contains(problem.Content, "(a) Find the roots.") {
		t.Fatalf("problem should list part a: %q", problem.Content)
	}
	if !strings.Contains(problem.Content, "(b) Sketch the graph.   ← currently working on this part") {
		t.Fatalf("problem should mark the active part: %q", problem.Content)
	}
	if strings.Contains(problem.Content, "(c)") {
		t.Fatalf("later parts must stay hidden: %q", problem.Content)
	}

	active, ok := findSection(cx, "Answer Key (Part b)")
	if !ok {
		t.Fatal("missing active answer key")
	}
	if !strings.Contains(active.Content, "parabola opening upward") || strings.Contains(active.Content, "x = 2 and x = -2") {
		t.Fatalf("active key should hold only part b: %q", active.Content)
	}

	previous, ok := findSection(cx, "Previous Parts")
	if !ok {
		t.Fatal("missing previous parts")
	}
	if !strings.Contains(previous.Content, "x = 2 and x = -2") {
		t.Fatalf("previous parts should hold part a: %q", previous.Content)
	}

	if prose := cx.Prose(); strings.Contains(prose, "(0, -4)") {
		t.Fatalf("the later part's answer leaked: %q", prose)
	}

	if len(cx.Images) != 1 || cx.Images[0].MIME != "image/png" {
		t.Fatalf("images = %+v, want the question figure", cx.Images)
	}

	// Resolving by registry identity writes through to the session cache.
	cached, err := env.store.CachedQuestionID(ctx, "s1")
	if err != nil || cached != qid {
		t.Fatalf("cached question = (%d, %v), want %d", cached, err, qid)
	}
}

func TestBuildContextUnifiedKeyWithoutActivePart(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	seedProblem(t, env)
	ctx := context.Background()

	env.registry.Connect(session.Session{
		ID:             "s1",
		DocumentName:   "worksheet.pdf",
		QuestionNumber: 3,
	})

	cx, err := env.pipeline.BuildContext(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	key, ok := findSection(cx, "Answer Key")
	if !ok {
		t.Fatalf("missing unified key; have %+v", cx.Sections)
	}
	for _, want := range []string{"a: x = 2 and x = -2", "b: parabola opening upward", "c: (0, -4)"} {
		if !strings.Contains(key.Content, want) {
			t.Fatalf("unified key missing %q: %q", want, key.Content)
		}
	}
	if _, ok := findSection(cx, "Previous Parts"); ok {
		t.Fatal("no previous-parts section without an active part")
	}

	problem, _ := findSection(cx, "Original Problem (Problem 3)")
	if !strings.Contains(problem.Content, "(c) State the vertex.") {
		t.Fatalf("all parts should be listed: %q", problem.Content)
	}
	if strings.Contains(problem.Content, "←") {
		t.Fatalf("no marker without an active part: %q", problem.Content)
	}
}

func TestBuildContextWholeQuestionKeyLabel(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	docID, _ := env.store.InsertDocument(ctx, "quiz.pdf", 1, 1)
	qid, _ := env.store.InsertQuestion(ctx, store.Question{
		DocumentID: docID, Number: 1, Text: "Compute 6 times 7.",
	})
	if err := env.store.InsertAnswerKey(ctx, qid, "", "42"); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	env.registry.Connect(session.Session{ID: "s1", DocumentName: "quiz.pdf", QuestionNumber: 1})

	cx, err := env.pipeline.BuildContext(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	key, ok := findSection(cx, "Answer Key")
	if !ok {
		t.Fatal("missing key section")
	}
	if !strings.Contains(key.Content, "Main: 42") {
		t.Fatalf("whole-question keys are labeled Main: %q", key.Content)
	}
	if _, ok := findSection(cx, "Original Problem"); !ok {
		t.Fatal("unlabeled questions use the plain title")
	}
}

func TestBuildContextEmpty(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.registry.Connect(session.Session{ID: "s1"})

	cx, err := env.pipeline.BuildContext(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !cx.Empty() {
		t.Fatalf("expected empty context, got %+v", cx.Sections)
	}
}

func TestBuildContextDiagramPlaceholder(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	env.registry.Connect(session.Session{ID: "s1", ContentMode: session.ModeDiagram})

	// A transcription row with no text marks diagram content; the visible
	// strokes are rendered and attached instead.
	if err := env.store.UpsertTranscription(ctx, store.PageTranscription{
		SessionID: "s1", Page: 0,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	env.drawStroke(t, "s1", 0, 40, 40)

	cx, err := env.pipeline.BuildContext(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	work, ok := findSection(cx, "Student's Current Work")
	if !ok {
		t.Fatalf("missing work section; have %+v", cx.Sections)
	}
	if work.Content != diagramPlaceholder {
		t.Fatalf("content = %q, want the placeholder", work.Content)
	}
	if len(cx.Images) != 1 {
		t.Fatalf("images = %d, want the page render", len(cx.Images))
	}
	if cx.Images[0].MIME != "image/png" || len(cx.Images[0].Data) == 0 {
		t.Fatalf("render = %+v", cx.Images[0].MIME)
	}
}

func TestBuildContextQuestionCacheFallback(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	qid := seedProblem(t, env)
	ctx := context.Background()

	// No registry entry at all: only the persisted binding remains, as
	// after a reconnect.
	if err := env.store.CacheSessionQuestion(ctx, "ghost", qid); err != nil {
		t.Fatalf("cache: %v", err)
	}

	cx, err := env.pipeline.BuildContext(ctx, "ghost", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if _, ok := findSection(cx, "Original Problem (Problem 3)"); !ok {
		t.Fatalf("cache fallback should resolve the problem; have %+v", cx.Sections)
	}
}

func TestBuildContextHistoryAndRepetitionGuard(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	env.registry.Connect(session.Session{ID: "s1"})
	if err := env.store.UpsertTranscription(ctx, store.PageTranscription{
		SessionID: "s1", Page: 0, Text: "2x = 6", Confidence: 0.95,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mustInsert := func(row store.ReasoningLog) {
		t.Helper()
		if _, err := env.store.InsertReasoningLog(ctx, row); err != nil {
			t.Fatalf("insert row: %v", err)
		}
	}
	mustInsert(store.ReasoningLog{
		SessionID: "s1", Page: 0, Action: ActionSilent, Message: "watching",
		CreatedAt: time.Now().Add(-2 * time.Minute),
	})
	mustInsert(store.ReasoningLog{
		SessionID: "s1", Page: 0, Action: ActionSpeak,
		Message: "what is x", Source: store.SourceVoiceQuestion, QuestionText: "what is x?",
		CreatedAt: time.Now().Add(-time.Minute),
	})
	mustInsert(store.ReasoningLog{
		SessionID: "s1", Page: 0, Action: ActionSpeak,
		Message:           "Divide both sides by two.",
		InternalReasoning: "Stuck on the last step. VERDICT: PASS",
		CreatedAt:         time.Now(),
	})

	cx, err := env.pipeline.BuildContext(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	history, ok := findSection(cx, "Recent Tutor History")
	if !ok {
		t.Fatalf("missing history; have %+v", cx.Sections)
	}
	if !strings.Contains(history.Content, "[silent] watching") {
		t.Fatalf("history missing the silent line: %q", history.Content)
	}
	if !strings.Contains(history.Content, "[voice question] Q: what is x? → what is x") {
		t.Fatalf("history missing the voice line: %q", history.Content)
	}
	if !strings.Contains(history.Content, "[speak] Divide both sides by two.") {
		t.Fatalf("history missing the speak line: %q", history.Content)
	}

	guard, ok := findSection(cx, "Do not repeat yourself")
	if !ok {
		t.Fatal("missing repetition guard after a spoken decision")
	}
	if !strings.Contains(guard.Content, `You already delivered this feedback: "Divide both sides by two."`) {
		t.Fatalf("guard = %q", guard.Content)
	}
	if !strings.Contains(guard.Content, "Stuck on the last step.") {
		t.Fatalf("guard should carry the reasoning: %q", guard.Content)
	}
}

func TestBuildContextNoGuardAfterVoiceRow(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	env.registry.Connect(session.Session{ID: "s1"})
	if err := env.store.UpsertTranscription(ctx, store.PageTranscription{
		SessionID: "s1", Page: 0, Text: "2x = 6", Confidence: 0.95,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := env.store.InsertReasoningLog(ctx, store.ReasoningLog{
		SessionID: "s1", Page: 0, Action: ActionSpeak,
		Message: "answered", Source: store.SourceVoiceQuestion, QuestionText: "hm?",
	}); err != nil {
		t.Fatalf("insert row: %v", err)
	}

	cx, err := env.pipeline.BuildContext(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if _, ok := findSection(cx, "Do not repeat yourself"); ok {
		t.Fatal("voice answers should not trigger the repetition guard")
	}
}

func TestContextProse(t *testing.T) {
	cx := Context{Sections: []Section{
		{Title: "A", Content: "first"},
		{Title: "B", Content: "second"},
	}}
	want := "## A\nfirst\n\n## B\nsecond"
	if got := cx.Prose(); got != want {
		t.Fatalf("Prose = %q, want %q", got, want)
	}
	if (Context{}).Prose() != "" {
		t.Fatal("empty context should render no prose")
	}
}
