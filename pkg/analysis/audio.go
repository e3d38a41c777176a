// Package analysis provides tempo, beat, energy and mood analysis of audio files.
// This file provides audio file loading and processing utilities.
package analysis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrNoSamples is returned when a file decodes to zero samples.
	ErrNoSamples = errors.New("no audio samples decoded")
)

// LoadOptions controls decoding.
type LoadOptions struct {
	// TrimEncoderDelay drops the MP3 encoder and decoder priming samples.
	TrimEncoderDelay bool
}

// LoadAudioMono loads an audio file and returns mono float32 samples and sample rate.
func LoadAudioMono(path string) ([]float32, int, error) {
	return LoadAudioMonoOptions(path, LoadOptions{TrimEncoderDelay: true})
}

// LoadAudioMonoOptions is LoadAudioMono with explicit decode options.
func LoadAudioMonoOptions(path string, opts LoadOptions) ([]float32, int, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		samples    []float32
		sampleRate int
		err        error
	)
	switch ext {
	case ".mp3":
		samples, sampleRate, err = loadMP3Mono(path, opts.TrimEncoderDelay)
	case ".wav", ".wave":
		samples, sampleRate, err = loadWAVMono(path)
	case ".flac":
		samples, sampleRate, err = loadBeepMono(path, func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
			return flac.Decode(f)
		})
	case ".ogg", ".oga":
		samples, sampleRate, err = loadBeepMono(path, func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
			return vorbis.Decode(f)
		})
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, 0, err
	}
	if len(samples) == 0 {
		return nil, 0, ErrNoSamples
	}
	return samples, sampleRate, nil
}

// IsSupportedAudio returns true if the file extension is a supported audio format.
func IsSupportedAudio(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".wav", ".wave", ".flac", ".ogg", ".oga":
		return true
	default:
		return false
	}
}

// Additional samples that go-mp3 produces before the first encoded sample,
// measured against a reference decoder on LAME-encoded files.
const goMP3DecoderDelay = 924

// Default encoder delay if we can't read it from the LAME header
const defaultEncoderDelay = 576

// lameGapless holds the encoder delay and padding, in samples, from a LAME tag.
type lameGapless struct {
	Delay   int
	Padding int
}

var defaultGapless = lameGapless{Delay: defaultEncoderDelay}

// readLAMEGapless reads the gapless info from the LAME/Xing header if present.
func readLAMEGapless(path string) lameGapless {
	f, err := os.Open(path)
	if err != nil {
		return defaultGapless
	}
	defer f.Close()

	// The Xing/LAME header lives in the first frame
	buf := make([]byte, 4096)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return defaultGapless
	}
	if n < 200 {
		return defaultGapless
	}
	return parseLAMEGapless(buf[:n])
}

// parseLAMEGapless extracts the two 12-bit values stored 21 bytes after the
// "LAME" tag: encoder delay, then padding. An out of range delay falls back
// to the default with no padding.
func parseLAMEGapless(buf []byte) lameGapless {
	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultGapless
	}

	offset := lameIdx + 21
	if offset+3 > len(buf) {
		return defaultGapless
	}

	b := buf[offset : offset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)
	padding := (int(b[1]&0x0F) << 8) | int(b[2])

	// typically 576-1152
	if delay <= 0 || delay > 4096 {
		return defaultGapless
	}
	return lameGapless{Delay: delay, Padding: padding}
}

// trim drops the encoder and decoder priming samples from the front and the
// encoder padding from the end of go-mp3 output.
func (g lameGapless) trim(samples []float32) []float32 {
	front := g.Delay + goMP3DecoderDelay
	if len(samples) <= front {
		return samples
	}
	end := len(samples) - g.Padding
	if end <= front {
		end = len(samples)
	}
	return samples[front:end]
}

// loadMP3Mono loads an MP3 file and returns mono float32 samples.
func loadMP3Mono(path string, trimDelay bool) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("create MP3 decoder: %w", err)
	}

	sampleRate := decoder.SampleRate()

	// 16-bit stereo interleaved
	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("decode MP3: %w", err)
	}

	samples := stereoPCM16ToMono(pcmData)

	if trimDelay {
		samples = readLAMEGapless(path).trim(samples)
	}

	return samples, sampleRate, nil
}

// stereoPCM16ToMono mixes little-endian 16-bit stereo PCM to mono in [-1, 1].
func stereoPCM16ToMono(pcmData []byte) []float32 {
	numSamplePairs := len(pcmData) / 4
	samples := make([]float32, numSamplePairs)

	for i := range numSamplePairs {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(pcmData[offset:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[offset+2:]))

		mono := (float32(left) + float32(right)) / 2.0
		samples[i] = mono / 32768.0
	}
	return samples
}

// WAVE format tags.
const (
	wavFormatPCM        = 0x0001
	wavFormatIEEEFloat  = 0x0003
	wavFormatExtensible = 0xFFFE
)

// loadWAVMono loads an integer PCM or 32-bit float WAV file and averages all
// channels.
func loadWAVMono(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("decode WAV: invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode WAV: %w", err)
	}

	numChannels := buf.Format.NumChannels
	if numChannels < 1 {
		return nil, 0, fmt.Errorf("decode WAV: invalid channel count %d", numChannels)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}

	format := decoder.WavAudioFormat
	if format == wavFormatExtensible {
		format = readWAVSubFormat(f)
	}

	var toFloat func(v int) float64
	switch format {
	case wavFormatPCM:
		if bitDepth < 8 || bitDepth > 32 {
			return nil, 0, fmt.Errorf("decode WAV: unsupported bit depth %d", bitDepth)
		}
		// 8-bit WAV is unsigned, everything else is signed
		var offset float64
		scale := float64(int64(1) << (bitDepth - 1))
		if bitDepth == 8 {
			offset = 128
		}
		toFloat = func(v int) float64 { return (float64(v) - offset) / scale }
	case wavFormatIEEEFloat:
		// The decoder hands back the raw little-endian bits as int32.
		if bitDepth != 32 {
			return nil, 0, fmt.Errorf("decode WAV: unsupported float bit depth %d", bitDepth)
		}
		toFloat = func(v int) float64 { return float64(math.Float32frombits(uint32(int32(v)))) }
	default:
		return nil, 0, fmt.Errorf("decode WAV: unsupported encoding %#x", format)
	}

	numFrames := len(buf.Data) / numChannels
	samples := make([]float32, numFrames)
	for i := range numFrames {
		var sum float64
		for c := range numChannels {
			sum += toFloat(buf.Data[i*numChannels+c])
		}
		samples[i] = float32(sum / float64(numChannels))
	}

	return samples, buf.Format.SampleRate, nil
}

// readWAVSubFormat returns the format tag held in the first two bytes of the
// WAVE_FORMAT_EXTENSIBLE sub-format GUID. The wav decoder skips these bytes.
// Unreadable headers are treated as integer PCM.
func readWAVSubFormat(f io.ReaderAt) uint16 {
	buf := make([]byte, 4096)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return wavFormatPCM
	}
	return parseWAVSubFormat(buf[:n])
}

func parseWAVSubFormat(buf []byte) uint16 {
	// RIFF header is 12 bytes, then chunks of id, size, body.
	for pos := 12; pos+8 <= len(buf); {
		id := string(buf[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(buf[pos+4:]))
		body := pos + 8
		if id == "fmt " {
			if size < 40 || body+26 > len(buf) {
				return wavFormatPCM
			}
			return binary.LittleEndian.Uint16(buf[body+24:])
		}
		pos = body + size + size%2
	}
	return wavFormatPCM
}

type beepDecodeFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

// loadBeepMono drains a beep streamer and averages its two output channels.
// beep duplicates mono sources into both channels.
func loadBeepMono(path string, decode beepDecodeFunc) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio: %w", err)
	}

	stream, format, err := decode(f)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("decode %s: %w", strings.TrimPrefix(filepath.Ext(path), "."), err)
	}
	defer stream.Close()

	var samples []float32
	if n := stream.Len(); n > 0 {
		samples = make([]float32, 0, n)
	}

	buf := make([][2]float64, 4096)
	for {
		n, ok := stream.Stream(buf)
		for i := range n {
			samples = append(samples, float32((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", strings.TrimPrefix(filepath.Ext(path), "."), err)
	}

	return samples, int(format.SampleRate), nil
}

// Resample resamples audio from srcRate to dstRate using linear interpolation.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	result := make([]float32, newLen)

	for i := range newLen {
		srcIdx := float64(i) * ratio
		srcIdxInt := int(srcIdx)
		frac := float32(srcIdx - float64(srcIdxInt))

		if srcIdxInt+1 < len(samples) {
			result[i] = samples[srcIdxInt]*(1-frac) + samples[srcIdxInt+1]*frac
		} else if srcIdxInt < len(samples) {
			result[i] = samples[srcIdxInt]
		}
	}

	return result
}
