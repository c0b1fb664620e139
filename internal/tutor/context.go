package tutor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/inkwell-labs/inkwell/internal/provider"
	"github.com/inkwell-labs/inkwell/internal/session"
	"github.com/inkwell-labs/inkwell/internal/store"
)

const diagramPlaceholder = "[Student's work is a diagram/sketch — see attached image]"

// Section is one titled block of assembled context.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Context is the material assembled for one reasoning run: prose sections
// plus any page renders and question figures for the model to look at.
type Context struct {
	Sections []Section        `json:"sections"`
	Images   []provider.Image `json:"-"`
}

// Empty reports whether there is nothing for the model to judge.
func (c Context) Empty() bool { return len(c.Sections) == 0 }

// Prose renders the sections as markdown-headed blocks.
func (c Context) Prose() string {
	parts := make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		parts = append(parts, "## "+s.Title+"\n"+s.Content)
	}
	return strings.Join(parts, "\n\n")
}

// BuildContext assembles everything the model needs to judge one page:
// the latest transcription, erased work, the bound problem with its answer
// key scoped to the active part, and recent tutor history.
func (p *Pipeline) BuildContext(ctx context.Context, sessionID string, page int) (Context, error) {
	var out Context

	var sess *session.Session
	if s, err := p.registry.Get(sessionID); err == nil {
		sess = s
	}
	activePart := ""
	if sess != nil {
		activePart = sess.PartLabel
	}

	tx, err := p.store.Transcription(ctx, sessionID, page)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Context{}, fmt.Errorf("load transcription: %w", err)
	}
	if tx != nil {
		title := "Student's Current Work"
		if activePart != "" {
			title += " (Part " + activePart + ")"
		}
		if strings.TrimSpace(tx.Text) != "" {
			out.Sections = append(out.Sections, Section{Title: title, Content: tx.Text})
		} else {
			if img := p.renderPage(ctx, sessionID, page); img != nil {
				out.Images = append(out.Images, provider.Image{Data: img, MIME: "image/png"})
			}
			out.Sections = append(out.Sections, Section{Title: title, Content: diagramPlaceholder})
		}
	}

	if snaps := p.eraseSnapshots(sessionID, page); len(snaps) > 0 {
		lines := make([]string, 0, len(snaps))
		for i, s := range snaps {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, s))
		}
		out.Sections = append(out.Sections, Section{
			Title:   "Previously Erased Work",
			Content: strings.Join(lines, "\n"),
		})
	}

	if q := p.resolveQuestion(ctx, sessionID, sess); q != nil {
		activeIdx := -1
		if activePart != "" {
			for i, part := range q.Parts {
				if part.Label == activePart {
					activeIdx = i
					break
				}
			}
		}

		var b strings.Builder
		b.WriteString(q.Text)
		for i, part := range q.Parts {
			if activeIdx >= 0 && i > activeIdx {
				break
			}
			fmt.Fprintf(&b, "\n  (%s) %s", part.Label, part.Text)
			if i == activeIdx {
				b.WriteString("   ← currently working on this part")
			}
		}
		title := "Original Problem"
		if q.Label != "" {
			title = fmt.Sprintf("Original Problem (%s)", q.Label)
		}
		out.Sections = append(out.Sections, Section{Title: title, Content: b.String()})

		if keys, err := p.store.AnswerKeys(ctx, q.ID); err == nil && len(keys) > 0 {
			out.Sections = append(out.Sections, answerKeySections(q, keys, activePart, activeIdx)...)
		}

		if figs, err := p.store.Figures(ctx, q.ID); err == nil {
			for _, f := range figs {
				out.Images = append(out.Images, provider.Image{Data: f.Data, MIME: f.MIME})
			}
		}
	}

	history, err := p.store.RecentReasoning(ctx, sessionID, page, historyWindow)
	if err == nil && len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, r := range history {
			if r.Source == store.SourceVoiceQuestion {
				lines = append(lines, fmt.Sprintf("  [voice question] Q: %s → %s", r.QuestionText, r.Message))
			} else {
				lines = append(lines, fmt.Sprintf("  [%s] %s", r.Action, r.Message))
			}
		}
		out.Sections = append(out.Sections, Section{
			Title:   "Recent Tutor History",
			Content: strings.Join(lines, "\n"),
		})

		if last := history[len(history)-1]; last.Source == "" && last.Action == ActionSpeak {
			var b strings.Builder
			fmt.Fprintf(&b, "You already delivered this feedback: %q", last.Message)
			if last.InternalReasoning != "" {
				fmt.Fprintf(&b, "\nYour reasoning at the time: %s", last.InternalReasoning)
			}
			b.WriteString("\nCheck whether the student has addressed it. If they have, stay silent or acknowledge the fix; do not deliver the same feedback again.")
			out.Sections = append(out.Sections, Section{
				Title:   "Do not repeat yourself",
				Content: b.String(),
			})
		}
	}

	return out, nil
}

// answerKeySections scopes the key to the active part: the active answer
// under its own heading, earlier parts as reference, later parts hidden.
// Without an active part the whole key is emitted unscoped.
func answerKeySections(q *store.Question, keys []store.AnswerKey, activePart string, activeIdx int) []Section {
	keyLine := func(k store.AnswerKey) string {
		label := k.PartLabel
		if label == "" {
			label = "Main"
		}
		return fmt.Sprintf("  %s: %s", label, k.Answer)
	}

	if activeIdx < 0 {
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, keyLine(k))
		}
		return []Section{{Title: "Answer Key", Content: strings.Join(lines, "\n")}}
	}

	partIdx := make(map[string]int, len(q.Parts))
	for i, part := range q.Parts {
		partIdx[part.Label] = i
	}

	var active, previous []string
	for _, k := range keys {
		switch idx, ok := partIdx[k.PartLabel]; {
		case k.PartLabel == activePart:
			active = append(active, keyLine(k))
		case ok && idx < activeIdx:
			previous = append(previous, keyLine(k))
		}
	}

	var out []Section
	if len(active) > 0 {
		out = append(out, Section{
			Title:   fmt.Sprintf("Answer Key (Part %s)", activePart),
			Content: strings.Join(active, "\n"),
		})
	}
	if len(previous) > 0 {
		out = append(out, Section{Title: "Previous Parts", Content: strings.Join(previous, "\n")})
	}
	return out
}

// resolveQuestion binds the session to its problem: the live registry
// record first, then the persisted cache. A successful registry resolution
// refreshes the cache so the binding survives reconnects.
func (p *Pipeline) resolveQuestion(ctx context.Context, sessionID string, sess *session.Session) *store.Question {
	if sess != nil && sess.DocumentName != "" && sess.QuestionNumber > 0 {
		q, err := p.store.QuestionByNumber(ctx, sess.DocumentName, sess.QuestionNumber)
		if err == nil {
			if cErr := p.store.CacheSessionQuestion(ctx, sessionID, q.ID); cErr != nil {
				log.Printf("[reason] (%s): question cache write failed: %v", sessionID, cErr)
			}
			return q
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[reason] (%s): question lookup failed: %v", sessionID, err)
		}
	}

	qid, err := p.store.CachedQuestionID(ctx, sessionID)
	if err != nil {
		return nil
	}
	q, err := p.store.QuestionByID(ctx, qid)
	if err != nil {
		return nil
	}
	return q
}

// renderPage rasterizes the page's visible strokes, or nil when there is
// nothing to draw.
func (p *Pipeline) renderPage(ctx context.Context, sessionID string, page int) []byte {
	rows, err := p.store.InkEvents(ctx, sessionID, page)
	if err != nil {
		return nil
	}
	visible := ReplayVisible(rows)
	if len(visible) == 0 {
		return nil
	}
	img, err := RenderPNG(visible)
	if err != nil {
		log.Printf("[reason] (%s, page=%d): page render failed: %v", sessionID, page, err)
		return nil
	}
	return img
}
