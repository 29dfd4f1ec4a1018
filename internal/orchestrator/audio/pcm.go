package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrNotPCM16 is returned by ParseWAV for anything other than 16-bit PCM.
var ErrNotPCM16 = errors.New("audio: not a 16-bit PCM WAV file")

// Float32ToPCM16 converts [-1,1] float samples to little-endian signed 16-bit PCM.
// Out-of-range samples are clipped.
func Float32ToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(math.Round(float64(s)*math.MaxInt16))))
	}
	return buf
}

// PCM16ToFloat32 is the inverse of Float32ToPCM16.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
	}
	return out
}

// WAV describes a decoded WAV file.
type WAV struct {
	SampleRate int
	Channels   int
	Data       []byte // raw little-endian PCM16 frames
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWAV walks the RIFF chunks of a PCM16 WAV file and returns its samples.
func ParseWAV(data []byte) (*WAV, error) {
	if !IsWAV(data) {
		return nil, ErrNotPCM16
	}

	var w WAV
	var bits uint16
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, ErrNotPCM16
			}
			format := binary.LittleEndian.Uint16(data[body:])
			w.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 {
				return nil, ErrNotPCM16
			}
		case "data":
			w.Data = data[body : body+size]
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}

	if bits != 16 || w.Data == nil {
		return nil, ErrNotPCM16
	}
	return &w, nil
}
