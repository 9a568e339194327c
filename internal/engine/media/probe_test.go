package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeParsesOutput(t *testing.T) {
	p := NewProber("")
	var gotName string
	var gotArgs []string
	p.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte(`{"streams":[{"width":1080,"height":1920,"duration":"12.500000"}],"format":{"duration":"12.6"}}`), nil
	}

	info, err := p.Probe(context.Background(), "abc.mp4")
	require.NoError(t, err)
	assert.Equal(t, "ffprobe", gotName)
	assert.Equal(t, "abc.mp4", gotArgs[len(gotArgs)-1])
	assert.Equal(t, Info{Width: 1080, Height: 1920, Duration: 12500 * time.Millisecond}, info)
	assert.True(t, info.Portrait())
	assert.Equal(t, "1080p", info.ResolutionTag())
}

func TestProbeFormatDurationFallback(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"width":1280,"height":720,"duration":"N/A"}],"format":{"duration":"3.0"}}`))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, info.Duration)
	assert.False(t, info.Portrait())
}

func TestProbeErrors(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[]}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)

	p := NewProber("/nonexistent/ffprobe")
	p.run = func(context.Context, string, ...string) ([]byte, error) { return nil, errors.New("exec failed") }
	_, err = p.Probe(context.Background(), "x.mp4")
	assert.Error(t, err)
}

func TestResolutionTag(t *testing.T) {
	tests := []struct {
		height int
		want   string
	}{
		{2160, "4K"},
		{4320, "4K"},
		{1080, "1080p"},
		{1440, "1080p"},
		{720, "720p"},
		{719, ""},
		{0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Info{Height: tt.height}.ResolutionTag(), "height %d", tt.height)
	}
}
