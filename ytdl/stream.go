package ytdl

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
)

type stream struct {
	fetch, transcode *exec.Cmd
	out              io.ReadCloser
	pipe             *os.File // read end of the fetch-to-transcode pipe

	fetchStderr, transcodeStderr *lineRing

	waited bool
	err    error // sticky, returned by every Read once set
}

// Read reads the transcode stage's output.
// At the end of it, both processes are reaped,
// and a failure of either one is reported as a *fxcache.RuntimeError
// instead of io.EOF.
//
// Read and Close must not be called concurrently.
func (s *stream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.out.Read(p)
	switch {
	case err == nil:
		return n, nil

	case err == io.EOF:
		if s.err = s.wait(); s.err == nil {
			s.err = io.EOF
		}

	default:
		kill(s.transcode)
		s.wait()
		s.err = &fxcache.RuntimeError{
			Stage:  fxcache.TranscodeStage,
			Err:    errors.Wrap(err, "reading output"),
			Stderr: s.transcodeStderr.Lines(),
		}
	}
	return n, s.err
}

// Close kills any stage still running and reaps both.
func (s *stream) Close() error {
	if s.waited {
		return nil
	}
	kill(s.transcode)
	s.wait()
	s.err = io.ErrClosedPipe
	return nil
}

// Waits for the transcode stage,
// then kills the fetch stage if it is still running and waits for that too.
// Killing it is the only way the fetch stage stops early:
// it cannot get a broken pipe while s.pipe is open,
// so any other failure of the fetch stage is its own.
func (s *stream) wait() error {
	s.waited = true

	tErr := s.transcode.Wait()
	kill(s.fetch)
	fErr := s.fetch.Wait()
	s.pipe.Close()

	if fErr != nil && !stopped(fErr) {
		return &fxcache.RuntimeError{
			Stage:  fxcache.FetchStage,
			Err:    fErr,
			Stderr: s.fetchStderr.Lines(),
		}
	}
	if tErr != nil {
		return &fxcache.RuntimeError{
			Stage:  fxcache.TranscodeStage,
			Err:    tErr,
			Stderr: s.transcodeStderr.Lines(),
		}
	}
	return nil
}

func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// An error here means the process is already gone; Wait reports how.
	_ = cmd.Process.Kill()
}

// Tells whether err reports a process killed by us
// (or by a SIGPIPE from somewhere other than our pipe).
func stopped(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false
	}
	sig := ws.Signal()
	return sig == syscall.SIGKILL || sig == syscall.SIGPIPE
}
