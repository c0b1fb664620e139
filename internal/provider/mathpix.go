package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MathpixConfig configures the Mathpix strokes API adapter.
type MathpixConfig struct {
	BaseURL    string
	AppID      string
	AppKey     string
	SessionTTL time.Duration
}

// Mathpix recognizes handwriting through the Mathpix strokes session API.
// Sessions are minted with the long-lived app credentials and then used
// token-only for the actual stroke submissions.
type Mathpix struct {
	cfg    MathpixConfig
	client *http.Client
}

func NewMathpix(cfg MathpixConfig) *Mathpix {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.mathpix.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 4*time.Minute + 30*time.Second
	}
	return &Mathpix{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether app credentials are present.
func (m *Mathpix) Configured() bool {
	return m.cfg.AppID != "" && m.cfg.AppKey != ""
}

func (m *Mathpix) NewSession(ctx context.Context) (InkSession, error) {
	if !m.Configured() {
		return InkSession{}, Errorf("mathpix", KindUnavailable, "app credentials not configured")
	}

	payload, err := json.Marshal(map[string]any{"include_strokes_session_id": true})
	if err != nil {
		return InkSession{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v3/app-tokens", bytes.NewReader(payload))
	if err != nil {
		return InkSession{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("app_id", m.cfg.AppID)
	req.Header.Set("app_key", m.cfg.AppKey)

	res, err := m.client.Do(req)
	if err != nil {
		return InkSession{}, m.wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return InkSession{}, Errorf("mathpix", ClassifyStatus(res.StatusCode), "app-tokens status %d: %s", res.StatusCode, string(body))
	}

	var out struct {
		AppToken         string `json:"app_token"`
		StrokesSessionID string `json:"strokes_session_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return InkSession{}, Errorf("mathpix", KindTransient, "decode token response: %v", err)
	}
	if out.AppToken == "" || out.StrokesSessionID == "" {
		return InkSession{}, Errorf("mathpix", KindFatal, "token response missing app_token or strokes_session_id")
	}

	return InkSession{
		ID:        out.StrokesSessionID,
		Token:     out.AppToken,
		ExpiresAt: time.Now().Add(m.cfg.SessionTTL),
	}, nil
}

func (m *Mathpix) Recognize(ctx context.Context, sess InkSession, ink Ink) (Recognition, error) {
	if sess.ID == "" || sess.Token == "" {
		return Recognition{}, Errorf("mathpix", KindBadRequest, "recognize called without a session")
	}

	payload, err := json.Marshal(map[string]any{
		"strokes_session_id": sess.ID,
		"strokes": map[string]any{
			"strokes": map[string]any{
				"x": ink.X,
				"y": ink.Y,
			},
		},
	})
	if err != nil {
		return Recognition{}, fmt.Errorf("marshal strokes: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v3/strokes", bytes.NewReader(payload))
	if err != nil {
		return Recognition{}, fmt.Errorf("create strokes request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("app_token", sess.Token)

	res, err := m.client.Do(req)
	if err != nil {
		return Recognition{}, m.wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Recognition{}, Errorf("mathpix", ClassifyStatus(res.StatusCode), "strokes status %d: %s", res.StatusCode, string(body))
	}

	var out struct {
		LatexStyled   string          `json:"latex_styled"`
		Text          string          `json:"text"`
		Confidence    float64         `json:"confidence"`
		IsHandwritten *bool           `json:"is_handwritten"`
		LineData      json.RawMessage `json:"line_data"`
		Error         string          `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Recognition{}, Errorf("mathpix", KindTransient, "decode strokes response: %v", err)
	}

	handwritten := true
	if out.IsHandwritten != nil {
		handwritten = *out.IsHandwritten
	}
	return Recognition{
		LaTeX:       out.LatexStyled,
		Text:        out.Text,
		Confidence:  out.Confidence,
		Handwritten: handwritten,
		LineData:    out.LineData,
		Remark:      out.Error,
	}, nil
}

func (m *Mathpix) wrap(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Provider: "mathpix", Kind: KindTransient, Err: err}
}
