package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageSynthesize(t *testing.T) {
	raw := []byte(`{"type":"synthesize","text":"Check your signs.","voice":"af_bella","speed":1.1}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	req, ok := msg.(SynthesizeRequest)
	if !ok {
		t.Fatalf("message type = %T, want SynthesizeRequest", msg)
	}
	if req.Text != "Check your signs." {
		t.Fatalf("Text = %q", req.Text)
	}
	if req.Voice != "af_bella" || req.Speed != 1.1 {
		t.Fatalf("overrides = (%q, %v)", req.Voice, req.Speed)
	}
}

func TestParseClientMessageDefaultsOmitted(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"synthesize","text":"hi"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	req := msg.(SynthesizeRequest)
	if req.Voice != "" || req.Speed != 0 {
		t.Fatalf("overrides = (%q, %v), want zero values", req.Voice, req.Speed)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"synthesize","text":"  "}`)); err == nil {
		t.Fatal("ParseClientMessage() accepted blank text")
	}
}

func TestParseClientMessageRejectsBadEnvelope(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("ParseClientMessage() accepted malformed JSON")
	}
}
