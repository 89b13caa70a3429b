package audio

import (
	"encoding/binary"
	"fmt"
	"time"

	"layeh.com/gopus"
)

const (
	opusSampleRate = 48000
	opusChannels   = 1
	// Maximum samples per channel in one opus frame (120ms at 48kHz).
	opusMaxFrameSize = 5760
)

// OpusDecoder decodes assets stored as a sequence of length-prefixed opus
// packets: a big-endian uint16 packet length followed by the packet bytes,
// repeated until the end of the asset.
type OpusDecoder struct{}

func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{}
}

func (d *OpusDecoder) Decode(data []byte) ([]Frame, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	var frames []Frame
	var elapsed time.Duration
	for off := 0; off < len(data); {
		if len(data)-off < 2 {
			return nil, fmt.Errorf("audio: truncated packet header at offset %d", off)
		}
		n := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if n == 0 || len(data)-off < n {
			return nil, fmt.Errorf("audio: truncated packet at offset %d", off)
		}
		pcm, err := dec.Decode(data[off:off+n], opusMaxFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("audio: decode opus packet: %w", err)
		}
		off += n

		frames = append(frames, Frame{
			Data:       pcmBytes(pcm),
			SampleRate: opusSampleRate,
			Channels:   opusChannels,
			Timestamp:  elapsed,
		})
		elapsed += time.Duration(len(pcm)/opusChannels) * time.Second / opusSampleRate
	}
	return frames, nil
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
