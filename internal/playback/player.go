package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rbright/voicebridge/internal/audio"
)

// Player renders one decoded clip and blocks until it finishes.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PulsePlayer plays decoded samples through a Pulse playback stream.
type PulsePlayer struct {
	MediaName string

	play func(ctx context.Context, samples []int16, sampleRate int, channels int, mediaName string) error
}

// NewPulsePlayer returns a player backed by audio.PlayPCM16.
func NewPulsePlayer(mediaName string) *PulsePlayer {
	if mediaName == "" {
		mediaName = "voicebridge response"
	}
	return &PulsePlayer{MediaName: mediaName, play: audio.PlayPCM16}
}

func (p *PulsePlayer) Play(ctx context.Context, clip Clip) error {
	if err := p.play(ctx, clip.Samples, clip.SampleRate, clip.Channels, p.MediaName); err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	return nil
}

// FilePlaceholder is replaced by the temp file path in CommandPlayer argv.
const FilePlaceholder = "{file}"

// CommandPlayer writes each clip to a temp file and runs an external player
// on it, e.g. ["pw-play", "{file}"]. The file is removed on every path.
type CommandPlayer struct {
	Argv    []string
	TempDir string

	run func(ctx context.Context, argv []string) error
}

// NewCommandPlayer validates argv and returns a command-backed player.
func NewCommandPlayer(argv []string, tempDir string) (*CommandPlayer, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("playback command is empty")
	}
	return &CommandPlayer{
		Argv:    append([]string(nil), argv...),
		TempDir: tempDir,
		run:     runCommand,
	}, nil
}

func (p *CommandPlayer) Play(ctx context.Context, clip Clip) error {
	ext := ".mp3"
	if clip.Format != FormatMP3 {
		ext = ".wav"
	}

	file, err := os.CreateTemp(p.TempDir, "voicebridge-*"+ext)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrPlayback, err)
	}
	path := file.Name()
	defer os.Remove(path)

	if clip.Format == FormatMP3 {
		_, err = file.Write(clip.Encoded)
	} else {
		err = writeWAV(file, clip)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: write temp file: %v", ErrPlayback, err)
	}

	argv := make([]string, len(p.Argv))
	substituted := false
	for i, arg := range p.Argv {
		if strings.Contains(arg, FilePlaceholder) {
			substituted = true
		}
		argv[i] = strings.ReplaceAll(arg, FilePlaceholder, path)
	}
	if !substituted {
		argv = append(argv, path)
	}

	if err := p.run(ctx, argv); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlayback, argv[0], err)
	}
	return nil
}

func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// writeWAV wraps PCM16 samples in a canonical 44-byte RIFF header.
func writeWAV(w io.Writer, clip Clip) error {
	data := audio.PCM16Bytes(clip.Samples)
	channels := uint16(clip.Channels)
	rate := uint32(clip.SampleRate)
	blockAlign := channels * 2

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+len(data)))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1)
	binary.LittleEndian.PutUint16(header[22:], channels)
	binary.LittleEndian.PutUint32(header[24:], rate)
	binary.LittleEndian.PutUint32(header[28:], rate*uint32(blockAlign))
	binary.LittleEndian.PutUint16(header[32:], blockAlign)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
