package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rbright/voicebridge/internal/audio"
)

// ErrPlayback marks payloads that could not be decoded or played.
var ErrPlayback = errors.New("playback failed")

// Format names the encoding of an inbound audio payload.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatMP3   Format = "mp3"
	FormatPCM16 Format = "pcm16"
)

// Clip is one decoded payload ready for a player.
type Clip struct {
	Format     Format
	Encoded    []byte
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration is the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)/c.Channels) / float64(c.SampleRate)
}

// Sniff guesses the payload encoding from its leading bytes: an ID3 tag or
// an MPEG frame sync means MP3, anything else is raw PCM16.
func Sniff(b []byte) Format {
	if bytes.HasPrefix(b, []byte("ID3")) {
		return FormatMP3
	}
	if len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0 {
		return FormatMP3
	}
	return FormatPCM16
}

// Decode turns a raw payload into PCM samples. pcmRate is the sample rate
// assumed for raw PCM16 payloads, which are always mono.
func Decode(raw []byte, format Format, pcmRate int) (Clip, error) {
	if len(raw) == 0 {
		return Clip{}, fmt.Errorf("%w: empty payload", ErrPlayback)
	}
	if format == "" || format == FormatAuto {
		format = Sniff(raw)
	}

	switch format {
	case FormatMP3:
		return decodeMP3(raw)
	case FormatPCM16:
		if pcmRate <= 0 {
			pcmRate = audio.SampleRate
		}
		samples := audio.PCM16Samples(raw)
		if len(samples) == 0 {
			return Clip{}, fmt.Errorf("%w: pcm16 payload shorter than one sample", ErrPlayback)
		}
		return Clip{
			Format:     FormatPCM16,
			Encoded:    raw,
			Samples:    samples,
			SampleRate: pcmRate,
			Channels:   1,
		}, nil
	default:
		return Clip{}, fmt.Errorf("%w: unsupported format %q", ErrPlayback, format)
	}
}

// decodeMP3 decodes to interleaved 16-bit stereo, the only output go-mp3 produces.
func decodeMP3(raw []byte) (Clip, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return Clip{}, fmt.Errorf("%w: open mp3 stream: %v", ErrPlayback, err)
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil && len(pcm) == 0 {
		return Clip{}, fmt.Errorf("%w: decode mp3 stream: %v", ErrPlayback, err)
	}
	samples := audio.PCM16Samples(pcm)
	if len(samples) == 0 {
		return Clip{}, fmt.Errorf("%w: mp3 payload decoded to no samples", ErrPlayback)
	}
	return Clip{
		Format:     FormatMP3,
		Encoded:    raw,
		Samples:    samples,
		SampleRate: decoder.SampleRate(),
		Channels:   2,
	}, nil
}
