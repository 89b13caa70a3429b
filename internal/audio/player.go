package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// PCMPlayer writes decoded frames as raw little-endian PCM16 to an
// io.Writer, typically a pipe into an external playback process. Writes
// are serialized so overlapping runs cannot interleave samples.
type PCMPlayer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPCMPlayer(w io.Writer) *PCMPlayer {
	return &PCMPlayer{w: w}
}

// Play writes frames in order, checking ctx between frames so a
// cancelled run stops at a frame boundary.
func (p *PCMPlayer) Play(ctx context.Context, frames []Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.w.Write(f.Data); err != nil {
			return fmt.Errorf("audio: write pcm: %w", err)
		}
	}
	return nil
}
