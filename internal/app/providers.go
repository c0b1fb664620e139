package app

import (
	"fmt"

	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/provider"
)

// providerSetup is the resolved external-service quartet.
type providerSetup struct {
	recognizer provider.InkRecognizer
	stt        provider.STTProvider
	llm        provider.LLMProvider
	tts        provider.TTSProvider
}

// ProviderInfo names the backend picked for each capability, for startup
// logging and diagnostics.
type ProviderInfo struct {
	Recognizer string
	STT        string
	LLM        string
	TTS        string
}

func (i ProviderInfo) Summary() string {
	return fmt.Sprintf("ink=%s stt=%s llm=%s tts=%s", i.Recognizer, i.STT, i.LLM, i.TTS)
}

// resolveProviders picks a real backend per capability when its credentials
// are present and the mock otherwise. Each slot degrades independently, so
// a missing key disables one capability instead of the whole service.
func resolveProviders(cfg config.Config) (providerSetup, ProviderInfo) {
	var setup providerSetup
	var info ProviderInfo

	mathpix := provider.NewMathpix(provider.MathpixConfig{
		BaseURL:    cfg.MathpixBaseURL,
		AppID:      cfg.MathpixAppID,
		AppKey:     cfg.MathpixAppKey,
		SessionTTL: cfg.HRRSessionTTL,
	})
	if mathpix.Configured() {
		setup.recognizer = mathpix
		info.Recognizer = "mathpix"
	} else {
		setup.recognizer = provider.NewMockRecognizer()
		info.Recognizer = "mock (MATHPIX_APP_ID/MATHPIX_APP_KEY not set)"
	}

	if cfg.GroqAPIKey != "" {
		setup.stt = provider.NewGroqSTT(provider.GroqConfig{
			BaseURL: cfg.GroqBaseURL,
			APIKey:  cfg.GroqAPIKey,
			Model:   cfg.GroqSTTModel,
		})
		info.STT = "groq/" + cfg.GroqSTTModel
	} else {
		setup.stt = provider.NewMockSTT()
		info.STT = "mock (GROQ_API_KEY not set)"
	}

	if cfg.OpenRouterAPIKey != "" {
		setup.llm = provider.NewOpenRouterLLM(provider.OpenRouterConfig{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.ReasoningModel,
		})
		info.LLM = "openrouter/" + cfg.ReasoningModel
	} else {
		setup.llm = provider.NewMockLLM()
		info.LLM = "mock (OPENROUTER_API_KEY not set)"
	}

	if cfg.DeepInfraAPIKey != "" {
		setup.tts = provider.NewDeepInfraTTS(provider.DeepInfraConfig{
			BaseURL: cfg.DeepInfraBaseURL,
			APIKey:  cfg.DeepInfraAPIKey,
			Model:   cfg.TTSModel,
			Voice:   cfg.TTSVoice,
			Speed:   cfg.TTSSpeed,
		})
		info.TTS = "deepinfra/" + cfg.TTSModel
	} else {
		setup.tts = provider.NewMockTTS()
		info.TTS = "mock (DEEPINFRA_API_KEY not set)"
	}

	return setup, info
}
