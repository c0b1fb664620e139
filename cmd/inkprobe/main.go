// inkprobe drives a scripted student against a running inkwell service:
// it starts a simulation, submits a sequence of work snapshots, asks a
// spoken question, plays the answer back over the TTS socket and prints
// the server's stage timings. Useful for eyeballing end-to-end latency
// against a real provider stack.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inkwell-labs/inkwell/internal/audio"
	"github.com/inkwell-labs/inkwell/internal/protocol"
)

type options struct {
	baseURL   string
	problem   string
	answer    string
	steps     []string
	question  string
	wavPath   string
	stepDelay time.Duration
	timeout   time.Duration
	verbose   bool
}

var defaultSteps = []string{
	"x + 2 = 5",
	"x + 2 = 5\nx = 5 - 2",
	"x + 2 = 5\nx = 5 - 2\nx = 3",
}

type decision struct {
	Action  string `json:"action"`
	Level   int    `json:"level"`
	Message string `json:"message"`
	DelayMS int    `json:"delay_ms"`
}

type sseEvent struct {
	Type string
	Data string
}

type stageRow struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type indicatorRow struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type latencySnapshot struct {
	WindowSize int            `json:"window_size"`
	Stages     []stageRow     `json:"stages"`
	Indicators []indicatorRow `json:"indicators"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "inkprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "inkprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var stepsRaw string
	var stepDelayMS int
	var timeoutS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "inkwell base URL")
	flag.StringVar(&cfg.problem, "problem", "Solve x + 2 = 5.", "problem statement for the scripted session")
	flag.StringVar(&cfg.answer, "answer", "x = 3", "expected answer for the answer key")
	flag.StringVar(&stepsRaw, "steps", "", "work snapshots separated by '|' (optional)")
	flag.StringVar(&cfg.question, "question", "Can you check my answer?", "spoken question asked after the last step")
	flag.StringVar(&cfg.wavPath, "wav", "", "write the spoken answer to this WAV file (optional)")
	flag.IntVar(&stepDelayMS, "step-delay-ms", 400, "pause between work snapshots in milliseconds")
	flag.IntVar(&timeoutS, "timeout-s", 120, "overall probe timeout in seconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print probe progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.problem) == "" {
		return options{}, fmt.Errorf("problem is required")
	}
	if timeoutS < 10 {
		timeoutS = 10
	}
	if stepDelayMS < 0 {
		stepDelayMS = 0
	}
	cfg.stepDelay = time.Duration(stepDelayMS) * time.Millisecond
	cfg.timeout = time.Duration(timeoutS) * time.Second

	cfg.steps = splitSteps(stepsRaw)
	if len(cfg.steps) == 0 {
		cfg.steps = append([]string(nil), defaultSteps...)
	}
	return cfg, nil
}

// splitSteps parses the '|'-separated -steps flag, dropping blanks.
func splitSteps(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	client := &http.Client{Timeout: 45 * time.Second}

	sessionID, err := startSimulation(ctx, client, cfg)
	if err != nil {
		return fmt.Errorf("start simulation: %w", err)
	}
	defer func() {
		_ = resetSimulation(context.Background(), client, cfg.baseURL, sessionID)
	}()
	if cfg.verbose {
		fmt.Printf("inkprobe: session=%s steps=%d\n", sessionID, len(cfg.steps))
	}

	events := openEvents(ctx, cfg.baseURL, sessionID)

	for i, step := range cfg.steps {
		start := time.Now()
		dec, err := postDecision(ctx, client, cfg.baseURL+"/simulation/write", map[string]string{
			"session_id":    sessionID,
			"transcription": step,
		})
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("inkprobe: step %d/%d action=%s level=%d latency=%s\n",
				i+1, len(cfg.steps), dec.Action, dec.Level, time.Since(start).Round(time.Millisecond))
			if dec.Action == "speak" {
				fmt.Printf("inkprobe:   tutor: %q\n", dec.Message)
			}
		}
		drainEvents(events, cfg.verbose)
		if cfg.stepDelay > 0 && i < len(cfg.steps)-1 {
			time.Sleep(cfg.stepDelay)
		}
	}

	start := time.Now()
	answer, err := postDecision(ctx, client, cfg.baseURL+"/simulation/ask", map[string]string{
		"session_id": sessionID,
		"question":   cfg.question,
	})
	if err != nil {
		return fmt.Errorf("ask question: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("inkprobe: question answered action=%s latency=%s\n", answer.Action, time.Since(start).Round(time.Millisecond))
		fmt.Printf("inkprobe:   tutor: %q\n", answer.Message)
	}

	if answer.Message != "" {
		pcm, sampleRate, firstAudio, err := speakOverSocket(ctx, cfg.baseURL, answer.Message)
		if err != nil {
			return fmt.Errorf("speak answer: %w", err)
		}
		if cfg.verbose {
			fmt.Printf("inkprobe: tts first_audio=%s pcm_bytes=%d\n", firstAudio.Round(time.Millisecond), len(pcm))
		}
		if cfg.wavPath != "" {
			if err := audio.WriteWAVFile(cfg.wavPath, pcm, sampleRate); err != nil {
				return fmt.Errorf("write wav: %w", err)
			}
			fmt.Printf("inkprobe: wrote %s\n", cfg.wavPath)
		}
	}

	snap, err := fetchLatency(ctx, client, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch latency: %w", err)
	}
	fmt.Print(formatStages(snap))
	return nil
}

func startSimulation(ctx context.Context, client *http.Client, cfg options) (string, error) {
	body := map[string]any{
		"problem_text": cfg.problem,
		"answer_key":   []map[string]string{{"part_label": "", "answer": cfg.answer}},
	}
	raw, err := postJSON(ctx, client, cfg.baseURL+"/simulation/start", body)
	if err != nil {
		return "", err
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func resetSimulation(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := postJSON(ctx, client, baseURL+"/simulation/reset", map[string]string{"session_id": sessionID})
	return err
}

func postDecision(ctx context.Context, client *http.Client, url string, body any) (decision, error) {
	raw, err := postJSON(ctx, client, url, body)
	if err != nil {
		return decision{}, err
	}
	var dec decision
	if err := json.Unmarshal(raw, &dec); err != nil {
		return decision{}, err
	}
	return dec, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// openEvents subscribes to the session's SSE stream and forwards reasoning
// pushes. The channel is best-effort: a full buffer drops, matching how a
// slow tablet client would behave.
func openEvents(ctx context.Context, baseURL, sessionID string) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/events?session_id="+url.QueryEscape(sessionID), nil)
		if err != nil {
			return
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer res.Body.Close()

		var ev sseEvent
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Type = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.Type != "":
				select {
				case out <- ev:
				default:
				}
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func drainEvents(events <-chan sseEvent, verbose bool) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if verbose {
				fmt.Printf("inkprobe: push %s %s\n", ev.Type, ev.Data)
			}
		default:
			return
		}
	}
}

// speakOverSocket synthesizes text through the TTS websocket and returns
// the raw PCM, its sample rate and the delay until the first audio frame.
func speakOverSocket(ctx context.Context, baseURL, text string) ([]byte, int, time.Duration, error) {
	wsURL, err := socketURL(baseURL)
	if err != nil {
		return nil, 0, 0, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	sent := time.Now()
	if err := conn.WriteJSON(protocol.SynthesizeRequest{Type: protocol.TypeSynthesize, Text: text}); err != nil {
		return nil, 0, 0, err
	}

	var (
		pcm        bytes.Buffer
		sampleRate = audio.DefaultSampleRate
		firstAudio time.Duration
	)
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, 0, 0, err
		}
		if kind == websocket.BinaryMessage {
			if firstAudio == 0 {
				firstAudio = time.Since(sent)
			}
			pcm.Write(raw)
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
		}
		switch env.Type {
		case protocol.TypeTTSStart:
			var start protocol.TTSStart
			if err := json.Unmarshal(raw, &start); err == nil && start.SampleRate > 0 {
				sampleRate = start.SampleRate
			}
		case protocol.TypeTTSEnd:
			return pcm.Bytes(), sampleRate, firstAudio, nil
		case protocol.TypeError:
			var ef protocol.ErrorFrame
			_ = json.Unmarshal(raw, &ef)
			return nil, 0, 0, fmt.Errorf("tts error: %s", ef.Detail)
		}
	}
}

func socketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/tts"
	return u.String(), nil
}

func fetchLatency(ctx context.Context, client *http.Client, baseURL string) (latencySnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/stats/latency", nil)
	if err != nil {
		return latencySnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return latencySnapshot{}, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return latencySnapshot{}, err
	}
	if res.StatusCode != http.StatusOK {
		return latencySnapshot{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var snap latencySnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return latencySnapshot{}, err
	}
	return snap, nil
}

// formatStages renders the latency snapshot as an aligned text table.
func formatStages(snap latencySnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "inkprobe: server stage timings (window %d)\n", snap.WindowSize)
	if len(snap.Stages) == 0 && len(snap.Indicators) == 0 {
		b.WriteString("inkprobe:   no samples recorded\n")
		return b.String()
	}
	for _, row := range snap.Stages {
		fmt.Fprintf(&b, "inkprobe:   %-28s n=%-4d last=%7.1fms avg=%7.1fms p95=%7.1fms",
			row.Stage, row.Samples, row.LastMS, row.AvgMS, row.P95MS)
		if row.TargetP95MS > 0 {
			status := "ok"
			if row.P95MS > row.TargetP95MS {
				status = "OVER"
			}
			fmt.Fprintf(&b, " target=%.0fms %s", row.TargetP95MS, status)
		}
		b.WriteString("\n")
	}
	for _, ind := range snap.Indicators {
		fmt.Fprintf(&b, "inkprobe:   %-28s count=%d\n", ind.Name, ind.Count)
	}
	return b.String()
}
