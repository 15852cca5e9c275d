// Package ytdl implements an fxcache.Pipeline out of two external programs:
// a fetch stage that writes a whole remote source to its standard output,
// piped into a transcode stage that cuts out the requested time window
// and converts it.
package ytdl

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
)

var _ fxcache.Pipeline = &Pipeline{}

// How long Wait lets a stage's stderr stay open after the stage exits.
const waitDelay = 2 * time.Second

// Stage describes how to run one external program.
// Each of Args may contain the placeholders {locator}, {start}, and {length},
// which are replaced with the clip's source locator
// and its start and length in whole seconds.
type Stage struct {
	Path string   `json:"path" yaml:"path"`
	Args []string `json:"args" yaml:"args"`
}

// Config describes both stages of a Pipeline.
type Config struct {
	Fetch     Stage `json:"fetch" yaml:"fetch"`
	Transcode Stage `json:"transcode" yaml:"transcode"`
}

// DefaultConfig runs youtube-dl into ffmpeg, producing mp3.
var DefaultConfig = Config{
	Fetch: Stage{
		Path: "youtube-dl",
		Args: []string{"{locator}", "-o", "-", "--audio-format", "best"},
	},
	Transcode: Stage{
		Path: "ffmpeg",
		Args: []string{"-ss", "{start}", "-t", "{length}", "-i", "-", "-f", "mp3", "-"},
	},
}

// Pipeline runs a Config's two stages for each clip.
type Pipeline struct {
	conf Config
}

// New produces a new Pipeline.
// Stages with an empty Path take their value from DefaultConfig.
func New(conf Config) *Pipeline {
	if conf.Fetch.Path == "" {
		conf.Fetch = DefaultConfig.Fetch
	}
	if conf.Transcode.Path == "" {
		conf.Transcode = DefaultConfig.Transcode
	}
	return &Pipeline{conf: conf}
}

// Create starts both stages for the clip described by origin.
// Canceling ctx kills them.
// The returned stream is the transcode stage's output;
// closing it kills whatever is still running and reaps both processes.
func (p *Pipeline) Create(ctx context.Context, origin fxcache.MediaOrigin) (io.ReadCloser, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &fxcache.LaunchError{Stage: fxcache.FetchStage, Err: errors.Wrap(err, "creating pipe")}
	}

	s := &stream{
		fetchStderr:     newLineRing(stderrLines),
		transcodeStderr: newLineRing(stderrLines),
	}

	s.fetch = command(ctx, p.conf.Fetch, origin)
	s.fetch.Stdout = pw
	s.fetch.Stderr = s.fetchStderr

	if err = s.fetch.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &fxcache.LaunchError{Stage: fxcache.FetchStage, Err: err}
	}

	s.transcode = command(ctx, p.conf.Transcode, origin)
	s.transcode.Stdin = pr
	s.transcode.Stderr = s.transcodeStderr
	if s.out, err = s.transcode.StdoutPipe(); err == nil {
		err = s.transcode.Start()
	}

	// The fetch stage holds its own copy of the write end now.
	// The read end stays open here until the fetch stage is reaped,
	// so the fetch stage never sees a broken pipe
	// when the transcode stage stops reading early.
	pw.Close()

	if err != nil {
		kill(s.fetch)
		s.fetch.Wait()
		pr.Close()
		if s.out != nil {
			s.out.Close()
		}
		return nil, &fxcache.LaunchError{Stage: fxcache.TranscodeStage, Err: err}
	}

	s.pipe = pr
	return s, nil
}

func command(ctx context.Context, stage Stage, origin fxcache.MediaOrigin) *exec.Cmd {
	r := strings.NewReplacer(
		"{locator}", origin.Locator,
		"{start}", strconv.FormatInt(int64(origin.Start.Seconds()), 10),
		"{length}", strconv.FormatInt(int64(origin.Length.Seconds()), 10),
	)
	args := make([]string, 0, len(stage.Args))
	for _, arg := range stage.Args {
		args = append(args, r.Replace(arg))
	}
	cmd := exec.CommandContext(ctx, stage.Path, args...) // #nosec G204
	cmd.WaitDelay = waitDelay
	return cmd
}
