// Package vad implements the gateway's pluggable speech-probability
// backends behind the HysteresisVAD window classifier (§4.2).
package vad

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

const (
	// sileroWindowSize matches HysteresisVAD's fixed 512-sample window.
	sileroWindowSize = 512
	sileroStateSize  = 128
	sileroSampleRate = 16000
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SileroVAD runs Silero VAD v5 inference via ONNX Runtime. One instance is
// bound to one connection; Clone() gives each new connection its own
// tensors and hidden state while sharing the loaded model path.
type SileroVAD struct {
	libPath   string
	modelPath string

	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]
}

// SileroConfig names the ONNX runtime shared library and model file on disk.
type SileroConfig struct {
	LibPath   string
	ModelPath string
}

func NewSileroVAD(cfg SileroConfig) (*SileroVAD, error) {
	ortInitOnce.Do(func() {
		if cfg.LibPath != "" {
			ort.SetSharedLibraryPath(cfg.LibPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: initialize onnxruntime: %w", ortInitErr))
	}

	v := &SileroVAD{libPath: cfg.LibPath, modelPath: cfg.ModelPath}
	if err := v.allocate(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *SileroVAD) allocate() error {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSize))
	if err != nil {
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: input tensor: %w", err))
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: state tensor: %w", err))
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(sileroSampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: sr tensor: %w", err))
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: output tensor: %w", err))
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: stateN tensor: %w", err))
	}

	session, err := ort.NewAdvancedSession(
		v.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: create session: %w", err))
	}

	v.session = session
	v.inputTensor = inputTensor
	v.stateTensor = stateTensor
	v.srTensor = srTensor
	v.outputTensor = outputTensor
	v.stateNTensor = stateNTensor
	return nil
}

func (v *SileroVAD) Name() string { return "silero" }

// Probability runs one inference on a 512-sample (1024-byte) s16le window.
func (v *SileroVAD) Probability(window []byte) (float64, error) {
	if len(window) != windowBytes {
		return 0, gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: expected %d-byte window, got %d", windowBytes, len(window)))
	}

	samples := pcmToFloat32(window)
	copy(v.inputTensor.GetData(), samples)

	if err := v.session.Run(); err != nil {
		return 0, gateway.NewError(gateway.KindInternal, fmt.Errorf("silero: inference: %w", err))
	}

	prob := v.outputTensor.GetData()[0]
	copy(v.stateTensor.GetData(), v.stateNTensor.GetData())

	return float64(prob), nil
}

func (v *SileroVAD) Reset() {
	clearFloat32Slice(v.stateTensor.GetData())
}

// Clone allocates a fresh session with its own tensors and zeroed hidden
// state, sharing the already-loaded model path. Each connection's VAD
// needs isolated recurrent state (§4.2).
func (v *SileroVAD) Clone() gateway.VADModel {
	clone, err := NewSileroVAD(SileroConfig{LibPath: v.libPath, ModelPath: v.modelPath})
	if err != nil {
		// A clone failure only happens if ONNX Runtime itself is broken;
		// surface a model that always errors rather than panic mid-call.
		return &brokenVAD{err: err}
	}
	return clone
}

func (v *SileroVAD) Close() error {
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	for _, t := range []interface{ Destroy() }{v.inputTensor, v.stateTensor, v.srTensor, v.outputTensor, v.stateNTensor} {
		if t != nil {
			t.Destroy()
		}
	}
	return nil
}

const windowBytes = 1024

// pcmToFloat32 converts s16le PCM to float32 normalized to [-1, 1]. Dividing
// by 32768 (not 32767) keeps the full int16 range within [-1, 1).
func pcmToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		samples[i] = float32(int16(u)) / 32768.0
	}
	return samples
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

// brokenVAD always errors. Returned by Clone when a fresh ONNX session
// cannot be allocated, so the caller gets a clear per-call error instead of
// a nil-pointer panic deep in connection setup.
type brokenVAD struct{ err error }

func (b *brokenVAD) Probability(_ []byte) (float64, error) { return 0, b.err }
func (b *brokenVAD) Reset()                                {}
func (b *brokenVAD) Clone() gateway.VADModel                { return b }
func (b *brokenVAD) Name() string                           { return "silero-broken" }
