// Package buffer provides planar float32 sample buffers sized to one audio
// block. A Buffer is a small value; copies and channel views share the
// underlying samples and never allocate.
package buffer

// Buffer holds one block of non-interleaved samples per channel.
type Buffer struct {
	channels [][]float32
}

// New allocates a zeroed buffer with the given channel count and block size.
func New(channels, frames int) Buffer {
	data := make([]float32, channels*frames)
	b := Buffer{channels: make([][]float32, channels)}
	for i := range b.channels {
		b.channels[i] = data[i*frames : (i+1)*frames : (i+1)*frames]
	}
	return b
}

// Channels returns the channel count.
func (b Buffer) Channels() int { return len(b.channels) }

// Frames returns the number of samples per channel.
func (b Buffer) Frames() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// Channel returns the samples of channel i.
func (b Buffer) Channel(i int) []float32 { return b.channels[i] }

// Slice returns a view of count channels starting at start. Writes through the
// view are visible in b. The range is clamped to the available channels.
func (b Buffer) Slice(start, count int) Buffer {
	if start >= len(b.channels) || count <= 0 {
		return Buffer{channels: b.channels[:0]}
	}
	end := start + count
	if end > len(b.channels) {
		end = len(b.channels)
	}
	return Buffer{channels: b.channels[start:end:end]}
}

// Clear zeroes every channel.
func (b Buffer) Clear() {
	for _, ch := range b.channels {
		clear(ch)
	}
}

// ClearFrom zeroes channels starting at index first.
func (b Buffer) ClearFrom(first int) {
	for i := first; i < len(b.channels); i++ {
		clear(b.channels[i])
	}
}

// Replace copies src into b channel by channel. Channels of b without a
// counterpart in src are left untouched.
func (b Buffer) Replace(src Buffer) {
	n := min(len(b.channels), len(src.channels))
	for i := 0; i < n; i++ {
		copy(b.channels[i], src.channels[i])
	}
}

// Add mixes src into b.
func (b Buffer) Add(src Buffer) {
	n := min(len(b.channels), len(src.channels))
	for i := 0; i < n; i++ {
		dst, s := b.channels[i], src.channels[i]
		for j := range dst {
			dst[j] += s[j]
		}
	}
}

// AddWithGain mixes src scaled by gain into b.
func (b Buffer) AddWithGain(src Buffer, gain float32) {
	n := min(len(b.channels), len(src.channels))
	for i := 0; i < n; i++ {
		dst, s := b.channels[i], src.channels[i]
		for j := range dst {
			dst[j] += s[j] * gain
		}
	}
}

// ApplyGain scales every channel by gain.
func (b Buffer) ApplyGain(gain float32) {
	for _, ch := range b.channels {
		for j := range ch {
			ch[j] *= gain
		}
	}
}

// Ramp scales every channel by a gain moving linearly from start to end over the block.
func (b Buffer) Ramp(start, end float32) {
	frames := b.Frames()
	if frames == 0 {
		return
	}
	step := (end - start) / float32(frames)
	for _, ch := range b.channels {
		g := start
		for j := range ch {
			ch[j] *= g
			g += step
		}
	}
}

// AddWithRamp mixes src into b with a gain moving linearly from start to end.
func (b Buffer) AddWithRamp(src Buffer, start, end float32) {
	frames := b.Frames()
	if frames == 0 {
		return
	}
	step := (end - start) / float32(frames)
	n := min(len(b.channels), len(src.channels))
	for i := 0; i < n; i++ {
		dst, s := b.channels[i], src.channels[i]
		g := start
		for j := range dst {
			dst[j] += s[j] * g
			g += step
		}
	}
}

// Fill sets every sample to v.
func (b Buffer) Fill(v float32) {
	for _, ch := range b.channels {
		for j := range ch {
			ch[j] = v
		}
	}
}

// Peak returns the largest absolute sample value of channel i.
func (b Buffer) Peak(i int) float32 {
	var peak float32
	for _, s := range b.channels[i] {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// CountClipped returns how many samples of channel i are at or beyond full scale.
func (b Buffer) CountClipped(i int) int {
	n := 0
	for _, s := range b.channels[i] {
		if s >= 1 || s <= -1 {
			n++
		}
	}
	return n
}

// Interleave writes b into dst as frame-interleaved samples. dst must hold
// Channels()*Frames() values.
func (b Buffer) Interleave(dst []float32) {
	nch := len(b.channels)
	for c, ch := range b.channels {
		for j, s := range ch {
			dst[j*nch+c] = s
		}
	}
}

// Deinterleave reads frame-interleaved samples from src into b.
func (b Buffer) Deinterleave(src []float32) {
	nch := len(b.channels)
	for c, ch := range b.channels {
		for j := range ch {
			ch[j] = src[j*nch+c]
		}
	}
}
