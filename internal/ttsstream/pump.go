package ttsstream

import (
	"context"
	"log"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-labs/inkwell/internal/provider"
)

// maxPrefetch bounds how many sentences may be synthesizing at once while
// earlier audio is still being written out.
const maxPrefetch = 4

type pcmResult struct {
	pcm []byte
	err error
}

// Pump synthesizes incoming sentences concurrently and hands the PCM to
// sink strictly in arrival order. A sentence that fails to synthesize is
// logged and skipped; a sink error aborts the whole stream.
func Pump(ctx context.Context, synth provider.TTSProvider, sentences <-chan string, sink func([]byte) error) error {
	g, ctx := errgroup.WithContext(ctx)
	slots := make(chan chan pcmResult, maxPrefetch)

	g.Go(func() error {
		defer close(slots)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case text, ok := <-sentences:
				if !ok {
					return nil
				}
				text = strings.TrimSpace(text)
				if text == "" {
					continue
				}
				slot := make(chan pcmResult, 1)
				select {
				case slots <- slot:
				case <-ctx.Done():
					return ctx.Err()
				}
				go func(text string, slot chan<- pcmResult) {
					pcm, err := synth.Synthesize(ctx, provider.SpeechRequest{Text: text})
					slot <- pcmResult{pcm: pcm, err: err}
				}(text, slot)
			}
		}
	})

	g.Go(func() error {
		for slot := range slots {
			var res pcmResult
			select {
			case res = <-slot:
			case <-ctx.Done():
				return ctx.Err()
			}
			if res.err != nil {
				log.Printf("[tts] sentence synthesis failed, skipping: %v", res.err)
				continue
			}
			if err := sink(res.pcm); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// PumpText splits a fixed utterance into sentences and pumps them.
func PumpText(ctx context.Context, synth provider.TTSProvider, text string, sink func([]byte) error) error {
	parts := SplitText(text)
	ch := make(chan string, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return Pump(ctx, synth, ch, sink)
}

// SplitText cuts complete text at sentence boundaries: one or more of
// [.!?] followed by whitespace. Punctuation stays with its sentence.
func SplitText(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	i := 0
	for i < len(runes) {
		if isSentenceEnd(runes[i]) {
			for i+1 < len(runes) && isSentenceEnd(runes[i+1]) {
				i++
			}
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(string(runes[start : i+1]))
				if sentence != "" {
					out = append(out, sentence)
				}
				i++
				for i < len(runes) && unicode.IsSpace(runes[i]) {
					i++
				}
				start = i
				continue
			}
		}
		i++
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
