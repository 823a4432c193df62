// Package playback serializes agent speech. Tasks run one at a time in
// enqueue order through an ordered chain of playback tiers; each tier
// is a fallback for failure of the previous one, and the final tier
// always succeeds so the pipeline can resume capture no matter what.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/neurocare/go-companion/pkg/audio"
)

// Task is one unit of agent speech. Either Audio (with Mime) or Text
// may be empty; a task with neither is rejected at enqueue.
type Task struct {
	// Audio is the synthesized payload from the reply service.
	Audio []byte

	// Mime describes the payload encoding (e.g. "audio/mpeg").
	Mime string

	// Text is used by the synthesis fallback tier.
	Text string

	// UtteranceID links the task to the utterance that triggered it.
	UtteranceID int64
}

// Tier plays a task or reports failure so the next tier can try.
type Tier interface {
	Name() string
	Play(ctx context.Context, task Task) error
}

// mediaTier is the primary path: hand the payload to an external media
// player and treat process exit as end-of-media. The caller bounds it
// with the playback watchdog via ctx.
type mediaTier struct {
	logger *slog.Logger
}

func (t *mediaTier) Name() string { return "media" }

func (t *mediaTier) Play(ctx context.Context, task Task) error {
	if len(task.Audio) == 0 {
		return fmt.Errorf("playback: no audio payload")
	}

	f, err := os.CreateTemp("", "companion-*.audio")
	if err != nil {
		return fmt.Errorf("playback: temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(task.Audio); err != nil {
		f.Close()
		return fmt.Errorf("playback: write payload: %w", err)
	}
	f.Close()

	cmd := exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", f.Name())
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("playback: media watchdog: %w", ctx.Err())
		}
		return fmt.Errorf("playback: media player: %w", err)
	}
	return nil
}

// decodeTier is the secondary path: decode the payload to PCM ourselves
// and feed it straight to the output device. Only WAV payloads decode;
// anything else falls through to the synthesis tier.
type decodeTier struct {
	logger *slog.Logger
}

func (t *decodeTier) Name() string { return "decode" }

func (t *decodeTier) Play(ctx context.Context, task Task) error {
	samples, rate, err := audio.DecodeWAV(task.Audio)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("playback: decoded payload is empty")
	}

	cmd := exec.CommandContext(ctx, "aplay", "-q",
		"-f", "S16_LE",
		"-r", strconv.Itoa(rate),
		"-c", "1",
		"-t", "raw",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("playback: output pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback: output device: %w", err)
	}
	stdin.Write(audio.SamplesToBytes(samples))
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("playback: output playback: %w", err)
	}
	return nil
}

// speakTier is the terminal path: on-device voice synthesis. It never
// fails; any error is logged and swallowed so the chain always resolves.
type speakTier struct {
	fallbackPhrase string
	logger         *slog.Logger
}

func (t *speakTier) Name() string { return "speak" }

func (t *speakTier) Play(ctx context.Context, task Task) error {
	text := task.Text
	if text == "" {
		text = t.fallbackPhrase
	}

	bin := "espeak"
	if runtime.GOOS == "darwin" {
		bin = "say"
	}
	cmd := exec.CommandContext(ctx, bin, text)
	if err := cmd.Run(); err != nil {
		t.logger.Warn("local synthesis failed", "error", err)
	}
	return nil
}
