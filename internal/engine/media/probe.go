// Package media reads video dimensions and duration with ffprobe.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Info describes the first video stream of a file.
type Info struct {
	Width    int
	Height   int
	Duration time.Duration
}

// Portrait reports a taller-than-wide frame.
func (i Info) Portrait() bool { return i.Height > i.Width }

// ResolutionTag names the quality bucket of the frame height, or "".
func (i Info) ResolutionTag() string {
	switch {
	case i.Height >= 2160:
		return "4K"
	case i.Height >= 1080:
		return "1080p"
	case i.Height >= 720:
		return "720p"
	}
	return ""
}

// Prober shells out to ffprobe.
type Prober struct {
	Path string

	// run is swapped out in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewProber returns a prober for the given binary ("" = "ffprobe" on PATH).
func NewProber(path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{Path: path, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, ee.Stderr)
		}
		return nil, err
	}
	return out, nil
}

type probeOutput struct {
	Streams []struct {
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Duration string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads width, height and duration of file.
func (p *Prober) Probe(ctx context.Context, file string) (Info, error) {
	run := p.run
	if run == nil {
		run = runCommand
	}
	out, err := run(ctx, p.Path,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,duration:format=duration",
		"-of", "json",
		file,
	)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", file, err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (Info, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return Info{}, fmt.Errorf("ffprobe: decode: %w", err)
	}
	if len(po.Streams) == 0 {
		return Info{}, errors.New("ffprobe: no video stream")
	}
	s := po.Streams[0]
	info := Info{Width: s.Width, Height: s.Height}
	d := s.Duration
	if d == "" || d == "N/A" {
		d = po.Format.Duration
	}
	if secs, err := strconv.ParseFloat(d, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}
