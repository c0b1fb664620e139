package tutor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/inkwell-labs/inkwell/internal/events"
	"github.com/inkwell-labs/inkwell/internal/observability"
	"github.com/inkwell-labs/inkwell/internal/provider"
	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/ttsstream"
)

const (
	recognizeTimeout = 30 * time.Second
	reasonTimeout    = 60 * time.Second
	confidenceFloor  = 0.8
	eraseRingCap     = 3
	historyWindow    = 5
	sentenceBuffer   = 64
)

// Config carries the tunable pipeline timings.
type Config struct {
	TranscribeDebounce time.Duration // pause after the last stroke before transcribing
	ReasoningDebounce  time.Duration // pause after the last stroke before reasoning
	TranscriptionWait  time.Duration // ceiling on waiting for a fresh transcription
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Store      store.Store
	Registry   *session.Registry
	Broker     *events.Broker
	Handles    *ttsstream.Registry
	Recognizer provider.InkRecognizer
	LLM        provider.LLMProvider
	Metrics    *observability.Metrics
}

type pageKey struct {
	sessionID string
	page      int
}

// taskSlot identifies one in-flight debounced task; gen decides whether a
// finished task still owns the slot when it comes back with a result.
type taskSlot struct {
	cancel context.CancelFunc
	gen    uint64
}

type delayedSlot struct {
	cancel context.CancelFunc
}

// pageState is the transient state of one (session, page).
type pageState struct {
	hrr        provider.InkSession
	lastHash   string
	transcribe taskSlot
	reason     taskSlot
	delayed    *delayedSlot
	ready      chan struct{}
	readySet   bool
	eraseSnaps []string // newest last
}

// Pipeline owns the per-page tutoring state machines: debounced
// transcription, debounced reasoning with delayed delivery, and the
// streaming voice-question path.
type Pipeline struct {
	cfg        Config
	store      store.Store
	registry   *session.Registry
	broker     *events.Broker
	handles    *ttsstream.Registry
	recognizer provider.InkRecognizer
	llm        provider.LLMProvider
	metrics    *observability.Metrics
	schema     provider.ResponseSchema

	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pages   map[pageKey]*pageState
	nextGen uint64
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.TranscribeDebounce <= 0 {
		cfg.TranscribeDebounce = 1500 * time.Millisecond
	}
	if cfg.ReasoningDebounce <= 0 {
		cfg.ReasoningDebounce = 1500 * time.Millisecond
	}
	if cfg.TranscriptionWait <= 0 {
		cfg.TranscriptionWait = 10 * time.Second
	}
	root, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		registry:   deps.Registry,
		broker:     deps.Broker,
		handles:    deps.Handles,
		recognizer: deps.Recognizer,
		llm:        deps.LLM,
		metrics:    deps.Metrics,
		schema:     DecisionSchema(),
		root:       root,
		cancel:     cancel,
		pages:      make(map[pageKey]*pageState),
	}
}

// Close cancels every in-flight task.
func (p *Pipeline) Close() { p.cancel() }

// OnStrokeEvent re-arms both debounced tasks after a draw or erase.
func (p *Pipeline) OnStrokeEvent(sessionID string, page int) {
	p.scheduleTranscription(sessionID, page)
	p.ScheduleReasoning(sessionID, page)
}

func (p *Pipeline) scheduleTranscription(sessionID string, page int) {
	key := pageKey{sessionID: sessionID, page: page}

	p.mu.Lock()
	st := p.pageLocked(key)
	if st.transcribe.cancel != nil {
		st.transcribe.cancel()
	}
	st.ready = make(chan struct{})
	st.readySet = false
	ctx, cancel := context.WithCancel(p.root)
	p.nextGen++
	gen := p.nextGen
	st.transcribe = taskSlot{cancel: cancel, gen: gen}
	p.mu.Unlock()

	go p.runTranscription(ctx, key, gen)
}

func (p *Pipeline) runTranscription(ctx context.Context, key pageKey, gen uint64) {
	defer p.releaseTranscribe(key, gen)

	if !sleepCtx(ctx, p.cfg.TranscribeDebounce) {
		p.countTranscription("cancelled")
		return
	}
	start := time.Now()
	status := p.transcribeOnce(ctx, key)
	if status == "completed" {
		p.metrics.ObserveStage("transcription_run", time.Since(start))
	}
	p.countTranscription(status)
}

// transcribeOnce runs one debounced transcription pass. Whatever happens,
// the ready latch is signalled so reasoning never deadlocks on it.
func (p *Pipeline) transcribeOnce(ctx context.Context, key pageKey) string {
	defer p.signalReady(key)

	if sess, err := p.registry.Get(key.sessionID); err == nil && sess.ContentMode == session.ModeDiagram {
		row := store.PageTranscription{SessionID: key.sessionID, Page: key.page}
		if err := p.store.UpsertTranscription(ctx, row); err != nil {
			log.Printf("[transcribe] (%s, page=%d): diagram upsert failed: %v", key.sessionID, key.page, err)
			return "failed"
		}
		return "skipped_diagram"
	}

	rows, err := p.store.InkEvents(ctx, key.sessionID, key.page)
	if err != nil {
		log.Printf("[transcribe] (%s, page=%d): ink replay failed: %v", key.sessionID, key.page, err)
		return "failed"
	}
	if n := len(rows); n > 0 && rows[n-1].EventType == store.EventErase {
		p.snapshotErased(ctx, key)
	}

	visible := ReplayVisible(rows)
	if len(visible) == 0 {
		return "empty"
	}
	hash := HashStrokes(visible)

	p.mu.Lock()
	st := p.pageLocked(key)
	if st.lastHash == hash {
		p.mu.Unlock()
		p.metrics.ObserveStageIndicator("transcription_hash_skip")
		return "skipped_hash"
	}
	hrr := st.hrr
	p.mu.Unlock()

	if hrr.Expired(time.Now()) {
		sctx, cancel := context.WithTimeout(ctx, recognizeTimeout)
		fresh, err := p.recognizer.NewSession(sctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "cancelled"
			}
			p.countProviderError(err)
			log.Printf("[transcribe] (%s, page=%d): recognizer session failed: %v", key.sessionID, key.page, err)
			return "failed"
		}
		hrr = fresh
		p.mu.Lock()
		p.pageLocked(key).hrr = hrr
		p.mu.Unlock()
	}

	rctx, cancel := context.WithTimeout(ctx, recognizeTimeout)
	rec, err := p.recognizer.Recognize(rctx, hrr, InkOf(visible))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "cancelled"
		}
		p.countProviderError(err)
		log.Printf("[transcribe] (%s, page=%d): recognize failed: %v", key.sessionID, key.page, err)
		return "failed"
	}

	row := store.PageTranscription{
		SessionID:  key.sessionID,
		Page:       key.page,
		Confidence: rec.Confidence,
		LineData:   rec.LineData,
	}
	diagram := rec.Remark != "" || !rec.Handwritten || rec.Confidence < confidenceFloor
	if !diagram {
		row.LaTeX = rec.LaTeX
		if row.LaTeX == "" {
			row.LaTeX = rec.Text
		}
		row.Text = rec.Text
	}

	if ctx.Err() != nil {
		return "cancelled"
	}
	if err := p.store.UpsertTranscription(ctx, row); err != nil {
		log.Printf("[transcribe] (%s, page=%d): upsert failed: %v", key.sessionID, key.page, err)
		return "failed"
	}

	p.mu.Lock()
	p.pageLocked(key).lastHash = hash
	p.mu.Unlock()

	if diagram {
		log.Printf("[transcribe] (%s, page=%d): classified as diagram (conf=%.2f handwritten=%t remark=%q)",
			key.sessionID, key.page, rec.Confidence, rec.Handwritten, rec.Remark)
	} else {
		log.Printf("[transcribe] (%s, page=%d): %q conf=%.2f", key.sessionID, key.page, rec.Text, rec.Confidence)
	}
	return "completed"
}

// snapshotErased keeps the transcription the student just erased so the
// model can see abandoned attempts. Capped ring, newest last.
func (p *Pipeline) snapshotErased(ctx context.Context, key pageKey) {
	tx, err := p.store.Transcription(ctx, key.sessionID, key.page)
	if err != nil || strings.TrimSpace(tx.Text) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.pageLocked(key)
	if n := len(st.eraseSnaps); n > 0 && st.eraseSnaps[n-1] == tx.Text {
		return
	}
	st.eraseSnaps = append(st.eraseSnaps, tx.Text)
	if len(st.eraseSnaps) > eraseRingCap {
		st.eraseSnaps = st.eraseSnaps[len(st.eraseSnaps)-eraseRingCap:]
	}
}

// eraseSnapshots returns the erase ring newest first.
func (p *Pipeline) eraseSnapshots(sessionID string, page int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pages[pageKey{sessionID: sessionID, page: page}]
	if !ok || len(st.eraseSnaps) == 0 {
		return nil
	}
	out := make([]string, 0, len(st.eraseSnaps))
	for i := len(st.eraseSnaps) - 1; i >= 0; i-- {
		out = append(out, st.eraseSnaps[i])
	}
	return out
}

// ScheduleReasoning re-arms the debounced reasoning task and cancels any
// pending delayed message: new writing supersedes an undelivered one.
func (p *Pipeline) ScheduleReasoning(sessionID string, page int) {
	key := pageKey{sessionID: sessionID, page: page}

	p.mu.Lock()
	st := p.pageLocked(key)
	if st.reason.cancel != nil {
		st.reason.cancel()
	}
	delayedCancelled := false
	if st.delayed != nil {
		st.delayed.cancel()
		st.delayed = nil
		delayedCancelled = true
	}
	ctx, cancel := context.WithCancel(p.root)
	p.nextGen++
	gen := p.nextGen
	st.reason = taskSlot{cancel: cancel, gen: gen}
	p.mu.Unlock()

	if delayedCancelled {
		p.metrics.ObserveStageIndicator("delayed_speak_cancelled")
	}
	go p.runReasoning(ctx, key, gen)
}

func (p *Pipeline) runReasoning(ctx context.Context, key pageKey, gen uint64) {
	defer p.releaseReason(key, gen)

	if !sleepCtx(ctx, p.cfg.ReasoningDebounce) {
		return
	}

	// Give the transcription pass a chance to finish, but never wait
	// beyond the ceiling: stale context beats no feedback.
	p.mu.Lock()
	st := p.pageLocked(key)
	ready := st.ready
	if st.readySet {
		ready = nil
	}
	p.mu.Unlock()
	if ready != nil {
		t := time.NewTimer(p.cfg.TranscriptionWait)
		select {
		case <-ready:
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
		t.Stop()
	}

	res, err := p.evaluate(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[reason] (%s, page=%d): %v", key.sessionID, key.page, err)
		}
		return
	}
	if res.NoContext {
		log.Printf("[reason] (%s, page=%d): no context, staying silent", key.sessionID, key.page)
		return
	}

	// A newer schedule may have raced with the model call; its run wins
	// and this one leaves no trace.
	p.mu.Lock()
	owned := p.pages[key] != nil && p.pages[key].reason.gen == gen
	p.mu.Unlock()
	if !owned {
		return
	}

	p.persistDecision(ctx, key, res, "", "")
	p.logDecision(key, res)

	dec := res.Decision
	if dec.Action != ActionSpeak {
		return
	}
	if dec.DelayMS <= 0 {
		p.publishSpeak(key.sessionID, dec.Message)
		return
	}
	p.armDelayed(key, dec.Message, time.Duration(dec.DelayMS)*time.Millisecond)
}

// runResult carries one reasoning outcome plus its accounting.
type runResult struct {
	Decision         Decision
	Prose            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	EarlyExit        bool
	NoContext        bool
}

// evaluate builds the context and runs the streaming reasoning call,
// cutting the stream short as soon as the model commits to silence.
func (p *Pipeline) evaluate(ctx context.Context, key pageKey) (runResult, error) {
	rctx, cancel := context.WithTimeout(ctx, reasonTimeout)
	defer cancel()

	cx, err := p.BuildContext(rctx, key.sessionID, key.page)
	if err != nil {
		return runResult{}, fmt.Errorf("build context: %w", err)
	}
	if cx.Empty() {
		return runResult{
			Decision:  Decision{Action: ActionSilent, Level: 1, Message: "No context available"},
			NoContext: true,
		}, nil
	}
	prose := cx.Prose()

	var acc strings.Builder
	earlyExit := false
	sawDelta := false
	start := time.Now()
	res, err := p.llm.Stream(rctx, provider.ChatRequest{
		System:      systemPrompt,
		User:        prose,
		Images:      cx.Images,
		Schema:      &p.schema,
		Temperature: 0.3,
	}, func(delta string) error {
		if !sawDelta && delta != "" {
			sawDelta = true
			p.metrics.ObserveStage("reasoning_first_delta", time.Since(start))
		}
		acc.WriteString(delta)
		if decidesSilent(acc.String()) {
			earlyExit = true
			return provider.ErrStopStream
		}
		return nil
	})
	if err != nil {
		p.countProviderError(err)
		return runResult{}, fmt.Errorf("reasoning stream: %w", err)
	}
	p.metrics.ObserveStage("reasoning_run", time.Since(start))

	raw := acc.String()
	var dec Decision
	if earlyExit {
		p.metrics.ObserveStageIndicator("reasoning_early_exit")
		dec = parseEarlyExit(raw)
	} else {
		var perr error
		dec, perr = ParseDecision(raw)
		if perr != nil {
			dec = ParseDecisionLenient(raw)
		}
	}

	pt := int(res.Usage.PromptTokens)
	ct := int(res.Usage.CompletionTokens)
	if pt == 0 && ct == 0 {
		pt, ct = EstimateTokens(systemPrompt+" "+prose, dec.Message)
	}

	return runResult{
		Decision:         dec,
		Prose:            prose,
		PromptTokens:     pt,
		CompletionTokens: ct,
		Cost:             EstimateCost(pt, ct),
		EarlyExit:        earlyExit,
	}, nil
}

// RunReasoningNow runs one reasoning pass synchronously, skipping the
// debounce and the transcription wait. A spoken decision is published
// immediately regardless of its delay. Scripted sessions use this.
func (p *Pipeline) RunReasoningNow(ctx context.Context, sessionID string, page int) (Decision, error) {
	key := pageKey{sessionID: sessionID, page: page}
	res, err := p.evaluate(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if !res.NoContext {
		p.persistDecision(ctx, key, res, "", "")
		p.logDecision(key, res)
		if res.Decision.Action == ActionSpeak {
			p.publishSpeak(sessionID, res.Decision.Message)
		}
	}
	return res.Decision, nil
}

// RunQuestionNow answers a typed question synchronously over the unary
// completion API and logs it like a voice question.
func (p *Pipeline) RunQuestionNow(ctx context.Context, sessionID string, page int, question string) (Decision, error) {
	key := pageKey{sessionID: sessionID, page: page}
	rctx, cancel := context.WithTimeout(ctx, reasonTimeout)
	defer cancel()

	cx, err := p.BuildContext(rctx, key.sessionID, key.page)
	if err != nil {
		return Decision{}, fmt.Errorf("build context: %w", err)
	}
	prose := cx.Prose()
	user := "## Student's Question\n" + question
	if prose != "" {
		user = prose + "\n\n" + user
	}

	res, err := p.llm.Complete(rctx, provider.ChatRequest{
		System:      voiceSystemPrompt,
		User:        user,
		Images:      cx.Images,
		Schema:      &p.schema,
		Temperature: 0.3,
	})
	if err != nil {
		p.countProviderError(err)
		return Decision{}, fmt.Errorf("question completion: %w", err)
	}

	dec, perr := ParseDecision(res.Content)
	if perr != nil {
		dec = ParseDecisionLenient(res.Content)
	}
	dec = dec.ForVoice()

	pt := int(res.Usage.PromptTokens)
	ct := int(res.Usage.CompletionTokens)
	if pt == 0 && ct == 0 {
		pt, ct = EstimateTokens(voiceSystemPrompt+" "+user, dec.Message)
	}
	rr := runResult{Decision: dec, Prose: prose, PromptTokens: pt, CompletionTokens: ct, Cost: EstimateCost(pt, ct)}
	p.persistDecision(ctx, key, rr, store.SourceVoiceQuestion, question)
	p.logDecision(key, rr)
	return dec, nil
}

// AskQuestion starts the streaming voice-question pipeline. It returns a
// stream-backed TTS handle id immediately; audio becomes available as the
// answer's sentences are synthesized.
func (p *Pipeline) AskQuestion(sessionID string, page int, question string) string {
	id, sink := p.handles.RegisterStream(sentenceBuffer)
	p.countTTSHandle("registered")

	payload := map[string]string{
		"action":  ActionSpeak,
		"message": "",
		"tts_id":  id,
	}
	if err := p.broker.Publish(sessionID, events.TypeReasoning, payload); err != nil {
		log.Printf("[voice] (%s): publish failed: %v", sessionID, err)
	}

	go p.answerQuestion(pageKey{sessionID: sessionID, page: page}, question, sink)
	return id
}

// answerQuestion streams the model's reply, cutting sentences out of the
// message field as they arrive and pushing them to the TTS handle. The
// sink is always closed, also on failure, so the audio stream terminates.
func (p *Pipeline) answerQuestion(key pageKey, question string, sink chan<- string) {
	ctx, cancel := context.WithTimeout(p.root, reasonTimeout)
	defer cancel()
	defer close(sink)

	start := time.Now()

	cx, err := p.BuildContext(ctx, key.sessionID, key.page)
	if err != nil {
		log.Printf("[voice] (%s, page=%d): build context failed: %v", key.sessionID, key.page, err)
		return
	}
	prose := cx.Prose()
	user := "## Student's Question\n" + question
	if prose != "" {
		user = prose + "\n\n" + user
	}

	ex := &messageExtractor{}
	cut := ttsstream.NewSentenceCutter()
	var sentences []string
	push := func(s string) bool {
		select {
		case sink <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var acc strings.Builder
	res, err := p.llm.Stream(ctx, provider.ChatRequest{
		System:      voiceSystemPrompt,
		User:        user,
		Images:      cx.Images,
		Schema:      &p.schema,
		Temperature: 0.3,
	}, func(delta string) error {
		acc.WriteString(delta)
		text := ex.Feed(delta)
		if text == "" {
			return nil
		}
		for _, s := range cut.Feed(text) {
			if len(sentences) == 0 {
				p.metrics.ObserveStage("question_first_sentence", time.Since(start))
			}
			sentences = append(sentences, s)
			if !push(s) {
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		p.countProviderError(err)
		log.Printf("[voice] (%s, page=%d): answer stream failed: %v", key.sessionID, key.page, err)
	}
	if tail := cut.Flush(); tail != "" {
		sentences = append(sentences, tail)
		push(tail)
	}
	if !ex.Found() {
		p.metrics.ObserveStageIndicator("voice_message_marker_missing")
	}

	raw := acc.String()
	dec, perr := ParseDecision(raw)
	if perr != nil {
		dec = ParseDecisionLenient(raw)
	}
	dec = dec.ForVoice()
	if strings.TrimSpace(dec.Message) == "" {
		dec.Message = strings.Join(sentences, " ")
	}

	pt := int(res.Usage.PromptTokens)
	ct := int(res.Usage.CompletionTokens)
	if pt == 0 && ct == 0 {
		pt, ct = EstimateTokens(voiceSystemPrompt+" "+user, dec.Message)
	}
	rr := runResult{Decision: dec, Prose: prose, PromptTokens: pt, CompletionTokens: ct, Cost: EstimateCost(pt, ct)}

	// The answer context may be close to its deadline; give persistence
	// its own short one.
	pctx, pcancel := context.WithTimeout(p.root, 5*time.Second)
	defer pcancel()
	p.persistDecision(pctx, key, rr, store.SourceVoiceQuestion, question)
	p.logDecision(key, rr)
}

// armDelayed holds a message back so the student gets a window to
// self-correct. New strokes cancel it before delivery.
func (p *Pipeline) armDelayed(key pageKey, message string, delay time.Duration) {
	ctx, cancel := context.WithCancel(p.root)
	slot := &delayedSlot{cancel: cancel}

	p.mu.Lock()
	st := p.pageLocked(key)
	if st.delayed != nil {
		st.delayed.cancel()
	}
	st.delayed = slot
	p.mu.Unlock()

	go func() {
		defer cancel()
		if !sleepCtx(ctx, delay) {
			return
		}
		p.mu.Lock()
		owned := p.pages[key] != nil && p.pages[key].delayed == slot
		if owned {
			p.pages[key].delayed = nil
		}
		p.mu.Unlock()
		if !owned {
			return
		}
		p.publishSpeak(key.sessionID, message)
	}()
}

func (p *Pipeline) publishSpeak(sessionID, message string) {
	id := p.handles.RegisterText(message)
	p.countTTSHandle("registered")
	payload := map[string]string{
		"action":  ActionSpeak,
		"message": message,
		"tts_id":  id,
	}
	if err := p.broker.Publish(sessionID, events.TypeReasoning, payload); err != nil {
		log.Printf("[reason] (%s): publish failed: %v", sessionID, err)
	}
}

func (p *Pipeline) persistDecision(ctx context.Context, key pageKey, res runResult, source, question string) {
	dec := res.Decision
	row := store.ReasoningLog{
		SessionID:         key.sessionID,
		Page:              key.page,
		Context:           res.Prose,
		Action:            dec.Action,
		Message:           dec.Message,
		InternalReasoning: dec.InternalReasoning,
		PromptTokens:      res.PromptTokens,
		CompletionTokens:  res.CompletionTokens,
		EstimatedCost:     res.Cost,
		DelayMS:           dec.DelayMS,
		Source:            source,
		QuestionText:      question,
	}
	if _, err := p.store.InsertReasoningLog(ctx, row); err != nil {
		log.Printf("[reason] (%s, page=%d): log insert failed: %v", key.sessionID, key.page, err)
	}
	if p.metrics != nil {
		src := source
		if src == "" {
			src = "write"
		}
		p.metrics.ReasoningRuns.WithLabelValues(dec.Action, src).Inc()
		p.metrics.ReasoningCost.Add(res.Cost)
	}
}

func (p *Pipeline) logDecision(key pageKey, res runResult) {
	msg := res.Decision.Message
	if len(msg) > 80 {
		msg = msg[:80]
	}
	log.Printf("[reason] (%s, page=%d): action=%s, message=%s, tokens=%d+%d, cost=$%.4f",
		key.sessionID, key.page, res.Decision.Action, msg,
		res.PromptTokens, res.CompletionTokens, res.Cost)
}

// InvalidatePage cancels tasks and forgets all transient state for a page.
func (p *Pipeline) InvalidatePage(sessionID string, page int) {
	key := pageKey{sessionID: sessionID, page: page}
	p.mu.Lock()
	if st, ok := p.pages[key]; ok {
		cancelPageLocked(st)
		delete(p.pages, key)
	}
	p.mu.Unlock()
}

// CleanupSession drops the transient state of every page the session
// touched. Runs on disconnect and registry eviction.
func (p *Pipeline) CleanupSession(sessionID string) {
	p.mu.Lock()
	for key, st := range p.pages {
		if key.sessionID != sessionID {
			continue
		}
		cancelPageLocked(st)
		delete(p.pages, key)
	}
	p.mu.Unlock()
}

func cancelPageLocked(st *pageState) {
	if st.transcribe.cancel != nil {
		st.transcribe.cancel()
	}
	if st.reason.cancel != nil {
		st.reason.cancel()
	}
	if st.delayed != nil {
		st.delayed.cancel()
		st.delayed = nil
	}
	if st.ready != nil && !st.readySet {
		close(st.ready)
		st.readySet = true
	}
}

func (p *Pipeline) pageLocked(key pageKey) *pageState {
	st, ok := p.pages[key]
	if !ok {
		st = &pageState{}
		p.pages[key] = st
	}
	return st
}

func (p *Pipeline) signalReady(key pageKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pages[key]
	if !ok || st.ready == nil || st.readySet {
		return
	}
	close(st.ready)
	st.readySet = true
}

func (p *Pipeline) releaseTranscribe(key pageKey, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pages[key]
	if !ok || st.transcribe.gen != gen {
		return
	}
	st.transcribe.cancel()
	st.transcribe = taskSlot{}
}

func (p *Pipeline) releaseReason(key pageKey, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pages[key]
	if !ok || st.reason.gen != gen {
		return
	}
	st.reason.cancel()
	st.reason = taskSlot{}
}

func (p *Pipeline) countTranscription(status string) {
	if p.metrics != nil {
		p.metrics.TranscriptionRuns.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) countProviderError(err error) {
	if p.metrics == nil {
		return
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		p.metrics.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Kind)).Inc()
	}
}

func (p *Pipeline) countTTSHandle(event string) {
	if p.metrics != nil {
		p.metrics.TTSHandles.WithLabelValues(event).Inc()
	}
}

// sleepCtx pauses for d; false when the context died first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
