// Package analysistest generates synthetic audio for analysis tests.
package analysistest

import (
	"math"
	"os"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/stretchr/testify/require"
)

// ClickTrack returns seconds of mono audio with a short decaying 1 kHz burst
// on every beat at bpm, starting at t=0.
func ClickTrack(sampleRate int, bpm, seconds float64) []float32 {
	n := int(seconds * float64(sampleRate))
	out := make([]float32, n)

	period := 60 / bpm * float64(sampleRate)
	clickLen := sampleRate / 50
	for beat := 0; ; beat++ {
		start := int(math.Round(float64(beat) * period))
		if start >= n {
			break
		}
		for i := 0; i < clickLen && start+i < n; i++ {
			t := float64(i) / float64(sampleRate)
			env := math.Exp(-float64(i) / float64(clickLen) * 6)
			out[start+i] = float32(0.8 * env * math.Sin(2*math.Pi*1000*t))
		}
	}
	return out
}

// Sine returns seconds of a sine wave at freq Hz and the given amplitude.
func Sine(sampleRate int, freq, amplitude, seconds float64) []float32 {
	out := make([]float32, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// WriteWAV writes samples as a 16-bit PCM WAV file with the given number of
// identical channels.
func WriteWAV(t testing.TB, path string, samples []float32, sampleRate, channels int) {
	t.Helper()

	data := make([]int, 0, len(samples)*channels)
	for _, s := range samples {
		v := int(pcm16(s))
		for range channels {
			data = append(data, v)
		}
	}
	writeWAV(t, path, data, sampleRate, channels, 16, 1)
}

// WriteFloatWAV writes samples as a 32-bit IEEE float WAV file with the given
// number of identical channels.
func WriteFloatWAV(t testing.TB, path string, samples []float32, sampleRate, channels int) {
	t.Helper()

	// The encoder writes each value as a little-endian int32, so the float
	// bits pass through unchanged.
	data := make([]int, 0, len(samples)*channels)
	for _, s := range samples {
		v := int(int32(math.Float32bits(s)))
		for range channels {
			data = append(data, v)
		}
	}
	writeWAV(t, path, data, sampleRate, channels, 32, 3)
}

func writeWAV(t testing.TB, path string, data []int, sampleRate, channels, bitDepth, format int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, format)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
}

// WriteFLAC writes samples as a 16-bit FLAC file with one or two identical
// channels, using verbatim subframes.
func WriteFLAC(t testing.TB, path string, samples []float32, sampleRate, channels int) {
	t.Helper()
	require.Contains(t, []int{1, 2}, channels)

	const blockSize = 4096

	f, err := os.Create(path)
	require.NoError(t, err)

	info := &meta.StreamInfo{
		BlockSizeMin:  blockSize,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: 16,
		NSamples:      uint64(len(samples)),
	}
	enc, err := flac.NewEncoder(f, info)
	require.NoError(t, err)

	assignment := frame.ChannelsMono
	if channels == 2 {
		assignment = frame.ChannelsLR
	}

	for start := 0; start < len(samples); start += blockSize {
		block := samples[start:min(start+blockSize, len(samples))]

		pcm := make([]int32, len(block))
		for i, s := range block {
			pcm[i] = int32(pcm16(s))
		}

		subframes := make([]*frame.Subframe, channels)
		for c := range subframes {
			subframes[c] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   pcm,
				NSamples:  len(pcm),
			}
		}

		require.NoError(t, enc.WriteFrame(&frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(len(pcm)),
				SampleRate:        uint32(sampleRate),
				Channels:          assignment,
				BitsPerSample:     16,
			},
			Subframes: subframes,
		}))
	}

	// Close rewrites the stream info and closes f.
	require.NoError(t, enc.Close())
}

func pcm16(s float32) int16 {
	v := int(math.Round(float64(s) * 32767))
	return int16(max(min(v, 32767), -32768))
}
