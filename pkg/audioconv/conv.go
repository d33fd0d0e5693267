// Package audioconv decodes wav/mp3/ogg audio into mono float32 PCM at a
// caller-chosen sample rate, which is what the transcriber wants to eat.
package audioconv

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
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

type Options struct {
	MaxSamples int // 0 = unlimited
}

const opusRate = 48000

// DecodeFile decodes an audio file to mono float32 at targetRate.
// Supported: wav, mp3, ogg-vorbis, ogg-opus. Unknown extensions are
// sniffed by magic bytes.
func DecodeFile(path string, targetRate int, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, filepath.Ext(path), targetRate, opt)
}

// Decode decodes audio from r, using ext (".wav", ".mp3", ".ogg") as a
// format hint; an empty or unknown hint falls back to sniffing.
func Decode(r io.Reader, ext string, targetRate int, opt Options) ([]float32, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("invalid target rate %d", targetRate)
	}

	rs, ok := r.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		rs = bytes.NewReader(b)
	}

	switch strings.ToLower(ext) {
	case ".wav":
		return decodeWAV(rs, targetRate, opt)
	case ".mp3":
		return decodeMP3(rs, targetRate, opt)
	case ".ogg", ".oga":
		return decodeOgg(rs, targetRate, opt)
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(rs, magic); err != nil {
		return nil, fmt.Errorf("sniff format: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch string(magic) {
	case "RIFF":
		return decodeWAV(rs, targetRate, opt)
	case "OggS":
		return decodeOgg(rs, targetRate, opt)
	default:
		return nil, fmt.Errorf("unsupported audio format (have %q, want wav/mp3/ogg)", ext)
	}
}

func decodeWAV(rs io.ReadSeeker, targetRate int, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav file")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	x := intsToFloat32(pb.Data, depth)

	channels, rate := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}
	return finish(x, channels, rate, targetRate, opt), nil
}

func decodeMP3(r io.Reader, targetRate int, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	x := int16sToFloat32(ints)

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always emits interleaved stereo
	return finish(x, 2, rate, targetRate, opt), nil
}

func decodeOgg(rs io.ReadSeeker, targetRate int, opt Options) ([]float32, error) {
	if out, err := decodeOggVorbis(rs, targetRate, opt); err == nil {
		return out, nil
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	out, err := decodeOggOpus(rs, targetRate, opt)
	if err != nil {
		return nil, fmt.Errorf("ogg container is neither vorbis nor opus: %w", err)
	}
	return out, nil
}

func decodeOggVorbis(r io.Reader, targetRate int, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid vorbis stream")
	}
	return finish(pcm, format.Channels, format.SampleRate, targetRate, opt), nil
}

func decodeOggOpus(rs io.ReadSeeker, targetRate int, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	channels := dec.ChannelCount()
	if channels <= 0 {
		channels = 1
	}

	var pcm []float32
	buf := make([]int16, opusRate*channels/2)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16sToFloat32(buf[:n*channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return finish(pcm, channels, opusRate, targetRate, opt), nil
}

func finish(x []float32, channels, rate, targetRate int, opt Options) []float32 {
	if channels > 1 {
		x = Downmix(x, channels)
	}
	if rate != targetRate {
		x = Resample(x, rate, targetRate)
	}
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		f := float64(v) * scale
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		out[i] = float32(f)
	}
	return out
}

func int16sToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates by linear interpolation. Good
// enough for speech headed into a recognizer.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		src := float64(i) / ratio
		lo := int(math.Floor(src))
		hi := lo + 1
		if lo >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if hi >= len(in) {
			out[i] = in[lo]
			continue
		}
		frac := float32(src - float64(lo))
		out[i] = in[lo]*(1-frac) + in[hi]*frac
	}
	return out
}
