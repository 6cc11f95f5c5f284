// Package pcm converts between float samples, signed 16-bit little-endian PCM
// and the base64 text form carried in audio/pcm wire messages.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// CaptureSampleRate is the rate of microphone audio sent to the agent.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of agent audio received for playback.
	PlaybackSampleRate = 24000

	bytesPerSample = 2
)

// Float32ToInt16 converts [-1,1] float samples to 16-bit PCM. Out of range
// input is clamped.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 0x7fff)
	}
	return out
}

// Int16ToFloat32 converts 16-bit PCM to float samples as sample/32768.
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}

// Int16ToBytes encodes samples as little-endian bytes.
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*bytesPerSample)
	for i, s := range in {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian bytes. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*bytesPerSample:]))
	}
	return out
}

// Encode returns the standard base64 form of raw PCM bytes.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode parses the base64 payload of an audio/pcm message.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return b, nil
}

// Resample converts mono PCM between sample rates with linear interpolation.
func Resample(in []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return out
}

// Duration reports how much audio byteLen bytes of 16-bit mono PCM hold.
func Duration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
