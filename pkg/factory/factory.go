// Package factory builds provider instances from the loaded configuration,
// keyed by selected_module (§4.8, §6, §9).
package factory

import (
	"fmt"

	"github.com/lokutor-ai/lokutor-gateway/pkg/config"
	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
	"github.com/lokutor-ai/lokutor-gateway/pkg/providers/asr"
	"github.com/lokutor-ai/lokutor-gateway/pkg/providers/llm"
	"github.com/lokutor-ai/lokutor-gateway/pkg/providers/tts"
	"github.com/lokutor-ai/lokutor-gateway/pkg/providers/vad"
)

// ASRFactory returns a gateway.ASRFactory constructing a fresh provider
// instance per connection, bound to the named config block.
func ASRFactory(cfg *config.Config, name string, logger gateway.Logger) (gateway.ASRFactory, error) {
	block, ok := cfg.Provider(cfg.ASR, name)
	if !ok {
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unknown ASR provider %q", name))
	}

	switch name {
	case "volcano":
		vcfg := asr.VolcanoConfig{
			WSURL:         block.String("ws_url", "wss://openspeech.bytedance.com/api/v1/asr/v2/ws"),
			AppID:         block.String("appid", ""),
			Cluster:       block.String("cluster", "volcano_asr"),
			AccessToken:   block.String("access_token", ""),
			ResourceID:    block.String("resource_id", "volc.bigasr.sauc.duration"),
			UID:           block.String("uid", "lokutor-gateway"),
			Workflow:      block.String("workflow", "audio_in,resample,partition,vad,fe,decode"),
			ResultType:    block.String("result_type", "full"),
			Format:        block.String("format", "opus"),
			Codec:         block.String("codec", "opus"),
			SampleRate:    block.Int("sample_rate", 16000),
			Language:      block.String("language", "zh-CN"),
			Bits:          block.Int("bits", 16),
			Channel:       block.Int("channel", 1),
			BoostingTable: block.String("boosting_table_name", ""),
			CorrectTable:  block.String("correct_table_name", ""),
			EndWindowSize: block.Int("end_window_size", 200),
			Logger:        logger,
		}
		return func() (gateway.ASRProvider, error) { return asr.NewVolcanoASR(vcfg), nil }, nil

	case "iflytek":
		icfg := asr.IFlytekConfig{
			BaseURL:         block.String("base_url", "wss://iat-api.xfyun.cn/v2/iat"),
			AppID:           block.String("appid", ""),
			AccessKeySecret: block.String("access_key_secret", ""),
			Language:        block.String("language", "zh_cn"),
			AudioEncode:     block.String("audio_encode", "raw"),
			SampleRate:      block.Int("sample_rate", 16000),
			RoleType:        block.String("role_type", ""),
			Logger:          logger,
		}
		return func() (gateway.ASRProvider, error) { return asr.NewIFlytekASR(icfg), nil }, nil

	default:
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unsupported ASR provider %q", name))
	}
}

// TTSProvider constructs the configured TTS driver.
func TTSProvider(cfg *config.Config, name string, logger gateway.Logger) (gateway.TTSProvider, error) {
	block, ok := cfg.Provider(cfg.TTS, name)
	if !ok {
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unknown TTS provider %q", name))
	}

	switch name {
	case "volcano":
		vcfg := tts.VolcanoConfig{
			WSURL:        block.String("ws_url", ""),
			AppID:        block.String("appid", ""),
			AccessToken:  block.String("access_token", ""),
			ResourceID:   block.String("resource_id", ""),
			Cluster:      block.String("cluster", "volcano_tts"),
			Speaker:      block.String("speaker", "zh_female_qingxin"),
			SpeechRate:   block.Float("speech_rate", 1.0),
			LoudnessRate: block.Float("loudness_rate", 1.0),
			Pitch:        block.Float("pitch", 1.0),
			SampleRate:   block.Int("sample_rate", 24000),
			AudioFormat:  block.String("audio_format", "pcm"),
			Logger:       logger,
		}
		return tts.NewVolcanoTTS(vcfg), nil

	default:
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unsupported TTS provider %q", name))
	}
}

// LLMProvider constructs the configured chat-completions driver.
func LLMProvider(cfg *config.Config, name string) (gateway.LLMProvider, error) {
	block, ok := cfg.Provider(cfg.LLM, name)
	if !ok {
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unknown LLM provider %q", name))
	}

	switch name {
	case "openai", "qwen":
		scfg := llm.StreamingConfig{
			APIKey:       block.String("api_key", ""),
			BaseURL:      block.String("base_url", ""),
			Model:        block.String("model", "gpt-4o"),
			Temperature:  block.Float("temperature", 0.7),
			MaxTokens:    block.Int("max_tokens", 0),
			TopP:         block.Float("top_p", 1.0),
			EnableSearch: block.String("enable_search", "") == "true",
		}
		return llm.NewStreamingChatLLM(scfg), nil

	default:
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unsupported LLM provider %q", name))
	}
}

// VADModel constructs the configured speech-probability backend. Each
// connection clones the returned model so its recurrent state stays
// per-session (§4.2).
func VADModel(cfg *config.Config, name string) (gateway.VADModel, error) {
	block, ok := cfg.Provider(cfg.VAD, name)
	if !ok {
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unknown VAD provider %q", name))
	}

	switch name {
	case "silero":
		return vad.NewSileroVAD(vad.SileroConfig{
			LibPath:   block.String("lib_path", ""),
			ModelPath: block.String("model_path", ""),
		})
	case "stub":
		return vad.NewStubVAD(), nil
	default:
		return nil, gateway.NewError(gateway.KindConfig, fmt.Errorf("unsupported VAD provider %q", name))
	}
}
