package gateway

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// pcmFrameSamples is 960 samples (60ms @ 16kHz mono), per §4.1.
const pcmFrameSamples = 960

// FrameCodec decodes one Opus packet per call into a fixed-size 16kHz mono
// PCM frame. One FrameCodec is owned per connection — Opus decoder state is
// not safe to share across connections (§9 "shared decoder").
type FrameCodec struct {
	decoder *gopus.Decoder
}

// NewFrameCodec builds a codec for 16kHz mono input.
func NewFrameCodec() (*FrameCodec, error) {
	dec, err := gopus.NewDecoder(16000, 1)
	if err != nil {
		return nil, NewError(KindInternal, fmt.Errorf("create opus decoder: %w", err))
	}
	return &FrameCodec{decoder: dec}, nil
}

// Decode turns one Opus packet into 1920 bytes (960 samples) of s16le PCM.
// Malformed input yields a DecodeError; the caller drops the frame.
func (c *FrameCodec) Decode(frame []byte) ([]byte, error) {
	samples, err := c.decoder.Decode(frame, pcmFrameSamples, false)
	if err != nil {
		return nil, NewError(KindDecode, fmt.Errorf("opus decode: %w", err))
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm, nil
}
