package analysis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/beatdetect/pkg/analysis/analysistest"
)

func TestLoadAudioMono_WAV(t *testing.T) {
	dir := t.TempDir()
	src := analysistest.Sine(22050, 440, 0.5, 1)

	tests := []struct {
		name     string
		channels int
	}{
		{"mono", 1},
		{"stereo", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".wav")
			analysistest.WriteWAV(t, path, src, 22050, tt.channels)

			samples, sr, err := LoadAudioMono(path)
			require.NoError(t, err)
			assert.Equal(t, 22050, sr)
			require.Len(t, samples, len(src))

			for i := 0; i < len(src); i += 997 {
				assert.InDelta(t, src[i], samples[i], 1e-3, "sample %d", i)
			}
		})
	}
}

func TestLoadAudioMono_FloatWAV(t *testing.T) {
	dir := t.TempDir()
	src := analysistest.Sine(22050, 440, 0.5, 1)

	for _, channels := range []int{1, 2} {
		t.Run(fmt.Sprintf("%d channels", channels), func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("float%d.wav", channels))
			analysistest.WriteFloatWAV(t, path, src, 22050, channels)

			samples, sr, err := LoadAudioMono(path)
			require.NoError(t, err)
			assert.Equal(t, 22050, sr)
			require.Len(t, samples, len(src))

			assert.InDelta(t, src[100], samples[100], 1e-6)
			for i := 0; i < len(src); i += 997 {
				assert.InDelta(t, src[i], samples[i], 1e-6, "sample %d", i)
			}
			x := make([]float64, len(samples))
			for i, v := range samples {
				x[i] = float64(v)
			}
			assert.InDelta(t, 0.5/math.Sqrt2, MeanRMS(x, 2048, 512), 0.02)
		})
	}
}

func TestParseWAVSubFormat(t *testing.T) {
	header := func(fmtSize int, sub uint16) []byte {
		buf := []byte("RIFF\x00\x00\x00\x00WAVE")
		buf = append(buf, "LIST"...)
		buf = binary.LittleEndian.AppendUint32(buf, 3)
		buf = append(buf, 'a', 'b', 'c', 0)
		buf = append(buf, "fmt "...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(fmtSize))
		body := make([]byte, fmtSize)
		if fmtSize >= 26 {
			binary.LittleEndian.PutUint16(body[24:], sub)
		}
		return append(buf, body...)
	}

	assert.Equal(t, uint16(wavFormatIEEEFloat), parseWAVSubFormat(header(40, wavFormatIEEEFloat)))
	assert.Equal(t, uint16(wavFormatPCM), parseWAVSubFormat(header(40, wavFormatPCM)))
	assert.Equal(t, uint16(wavFormatPCM), parseWAVSubFormat(header(16, 0)))
	assert.Equal(t, uint16(wavFormatPCM), parseWAVSubFormat([]byte("RIFF")))
}

func TestLoadAudioMono_FLAC(t *testing.T) {
	dir := t.TempDir()
	src := analysistest.Sine(22050, 440, 0.5, 1)

	for _, channels := range []int{1, 2} {
		t.Run(fmt.Sprintf("%d channels", channels), func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("sine%d.flac", channels))
			analysistest.WriteFLAC(t, path, src, 22050, channels)

			samples, sr, err := LoadAudioMono(path)
			require.NoError(t, err)
			assert.Equal(t, 22050, sr)
			require.Len(t, samples, len(src))

			for i := 0; i < len(src); i += 997 {
				assert.InDelta(t, src[i], samples[i], 1e-3, "sample %d", i)
			}
		})
	}
}

// TestLoadAudioMono_Fixtures decodes any MP3 or Ogg files placed in testdata.
func TestLoadAudioMono_Fixtures(t *testing.T) {
	var paths []string
	for _, pattern := range []string{"testdata/*.mp3", "testdata/*.ogg"} {
		matches, _ := filepath.Glob(pattern)
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		t.Skip("No MP3 or Ogg fixtures found in testdata")
	}

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			samples, sr, err := LoadAudioMono(path)
			require.NoError(t, err)
			assert.Positive(t, sr)
			require.NotEmpty(t, samples)
			for _, s := range samples {
				require.LessOrEqual(t, math.Abs(float64(s)), 1.0)
			}

			if filepath.Ext(path) != ".mp3" {
				return
			}
			raw, _, err := LoadAudioMonoOptions(path, LoadOptions{})
			require.NoError(t, err)
			assert.Equal(t, readLAMEGapless(path).trim(raw), samples)
		})
	}
}

func TestLoadAudioMono_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "track.aiff")
		require.NoError(t, os.WriteFile(path, []byte("FORM"), 0o644))

		_, _, err := LoadAudioMono(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedFormat))
		assert.Equal(t, "unsupported audio format: .aiff", err.Error())
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := LoadAudioMono(filepath.Join(dir, "nope.wav"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
		assert.True(t, IsInputError(err))
	})

	for _, name := range []string{"garbage.wav", "garbage.flac", "garbage.ogg", "garbage.mp3"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o644))

			_, _, err := LoadAudioMono(path)
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrUnsupportedFormat))
		})
	}
}

func TestIsSupportedAudio(t *testing.T) {
	for _, ext := range []string{".mp3", ".MP3", ".wav", ".wave", ".flac", ".ogg", ".oga"} {
		assert.True(t, IsSupportedAudio(ext), ext)
	}
	for _, ext := range []string{".m4a", ".aac", ".aiff", ".json", ""} {
		assert.False(t, IsSupportedAudio(ext), ext)
	}
}

func TestParseLAMEGapless(t *testing.T) {
	header := func(b0, b1, b2 byte) []byte {
		buf := make([]byte, 300)
		copy(buf[100:], "LAME3.100")
		buf[100+21] = b0
		buf[100+22] = b1
		buf[100+23] = b2
		return buf
	}

	tests := []struct {
		name string
		buf  []byte
		want lameGapless
	}{
		{"default delay", header(0x24, 0x00, 0x00), lameGapless{Delay: 576}},
		{"custom delay", header(0x48, 0x10, 0x00), lameGapless{Delay: 1153}},
		{"delay and padding", header(0x24, 0x03, 0x4F), lameGapless{Delay: 576, Padding: 847}},
		{"max padding", header(0x24, 0x0F, 0xFF), lameGapless{Delay: 576, Padding: 4095}},
		{"zero falls back", header(0x00, 0x00, 0x10), defaultGapless},
		{"no tag", make([]byte, 300), defaultGapless},
		{"truncated", []byte("xxLAME"), defaultGapless},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLAMEGapless(tt.buf))
		})
	}
}

func TestLAMEGaplessTrim(t *testing.T) {
	ramp := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(i)
		}
		return out
	}

	tests := []struct {
		name      string
		g         lameGapless
		n         int
		wantFirst float32
		wantLen   int
	}{
		{"delay only", lameGapless{Delay: 576}, 3000, 1500, 1500},
		{"delay and padding", lameGapless{Delay: 576, Padding: 100}, 3000, 1500, 1400},
		{"padding past front keeps tail", lameGapless{Delay: 576, Padding: 1600}, 3000, 1500, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.g.trim(ramp(tt.n))
			require.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantFirst, got[0])
		})
	}

	t.Run("shorter than delay", func(t *testing.T) {
		got := lameGapless{Delay: 576, Padding: 10}.trim(ramp(1000))
		assert.Len(t, got, 1000)
	})
}

func TestStereoPCM16ToMono(t *testing.T) {
	// L=16384 R=-16384, L=32767 R=32767
	pcm := []byte{0x00, 0x40, 0x00, 0xC0, 0xFF, 0x7F, 0xFF, 0x7F}

	got := stereoPCM16ToMono(pcm)
	require.Len(t, got, 2)
	assert.InDelta(t, 0, got[0], 1e-6)
	assert.InDelta(t, 32767.0/32768.0, got[1], 1e-6)
}

func TestResample(t *testing.T) {
	src := make([]float32, 100)
	for i := range src {
		src[i] = float32(i)
	}

	same := Resample(src, 44100, 44100)
	assert.Equal(t, src, same)

	down := Resample(src, 44100, 22050)
	require.Len(t, down, 50)
	assert.InDelta(t, 10, down[5], 1e-6)

	up := Resample(src, 22050, 44100)
	require.Len(t, up, 200)
	assert.InDelta(t, 2.5, up[5], 1e-6)
}
