package ytdl

import (
	"context"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/goleak"

	"github.com/bobg/fxcache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func needSh(t *testing.T) {
	t.Helper()
	for _, prog := range []string{"sh", "cat", "yes", "head"} {
		if _, err := exec.LookPath(prog); err != nil {
			t.Skipf("%s not available: %s", prog, err)
		}
	}
}

func sh(script string) Stage {
	return Stage{Path: "sh", Args: []string{"-c", script}}
}

var origin = fxcache.MediaOrigin{Locator: "hello", Start: 3 * time.Second, Length: 5900 * time.Millisecond}

func TestCreate(t *testing.T) {
	needSh(t)

	cases := []struct {
		name string
		conf Config
		want string
	}{{
		name: "passthrough",
		conf: Config{Fetch: sh("printf %s {locator}"), Transcode: Stage{Path: "cat"}},
		want: "hello",
	}, {
		name: "placeholders",
		conf: Config{Fetch: sh("printf %s {locator}"), Transcode: sh("cat; printf ' %s %s' {start} {length}")},
		want: "hello 3 5",
	}, {
		name: "transcode stops early",
		conf: Config{Fetch: Stage{Path: "yes"}, Transcode: Stage{Path: "head", Args: []string{"-c", "6"}}},
		want: "y\ny\ny\n",
	}}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rc, err := New(c.conf).Create(context.Background(), origin)
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()

			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

// A fetch stage that ignores SIGPIPE (as youtube-dl does)
// must not turn a transcode stage that stops early into a failure.
func TestFetchIgnoresSIGPIPE(t *testing.T) {
	needSh(t)

	conf := Config{
		Fetch:     sh(`trap "" PIPE; exec yes`),
		Transcode: Stage{Path: "head", Args: []string{"-c", "6"}},
	}
	for i := 0; i < 25; i++ {
		rc, err := New(conf).Create(context.Background(), origin)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("run %d: got %q with error: %s", i, got, err)
		}
		if string(got) != "y\ny\ny\n" {
			t.Fatalf("run %d: got %q, want %q", i, got, "y\ny\ny\n")
		}
	}
}

func TestLaunchFailure(t *testing.T) {
	needSh(t)

	cases := []struct {
		name string
		conf Config
		want fxcache.Stage
	}{{
		name: "fetch",
		conf: Config{Fetch: Stage{Path: "/nonexistent/fx-fetch"}, Transcode: Stage{Path: "cat"}},
		want: fxcache.FetchStage,
	}, {
		name: "transcode",
		conf: Config{Fetch: Stage{Path: "yes"}, Transcode: Stage{Path: "/nonexistent/fx-transcode"}},
		want: fxcache.TranscodeStage,
	}}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rc, err := New(c.conf).Create(context.Background(), origin)
			if err == nil {
				rc.Close()
				t.Fatal("got no error")
			}
			var lerr *fxcache.LaunchError
			if !errors.As(err, &lerr) {
				t.Fatalf("got %v, want a LaunchError", err)
			}
			if lerr.Stage != c.want {
				t.Errorf("got stage %s, want %s", lerr.Stage, c.want)
			}
		})
	}
}

func TestRuntimeFailure(t *testing.T) {
	needSh(t)

	cases := []struct {
		name       string
		conf       Config
		wantStage  fxcache.Stage
		wantStderr []string
	}{{
		name:       "fetch",
		conf:       Config{Fetch: sh("echo oops >&2; exit 3"), Transcode: Stage{Path: "cat"}},
		wantStage:  fxcache.FetchStage,
		wantStderr: []string{"oops"},
	}, {
		name:       "transcode",
		conf:       Config{Fetch: sh("printf %s {locator}"), Transcode: sh("cat >/dev/null; echo bad input >&2; exit 2")},
		wantStage:  fxcache.TranscodeStage,
		wantStderr: []string{"bad input"},
	}}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rc, err := New(c.conf).Create(context.Background(), origin)
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()

			_, err = io.ReadAll(rc)
			var rerr *fxcache.RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("got %v, want a RuntimeError", err)
			}
			if rerr.Stage != c.wantStage {
				t.Errorf("got stage %s, want %s", rerr.Stage, c.wantStage)
			}
			if diff := cmp.Diff(c.wantStderr, rerr.Stderr); diff != "" {
				t.Errorf("stderr mismatch (-want +got):\n%s", diff)
			}

			// The failure sticks.
			if _, err2 := rc.Read(make([]byte, 1)); err2 != err {
				t.Errorf("got %v on second read, want %v", err2, err)
			}
		})
	}
}

func TestClose(t *testing.T) {
	needSh(t)

	rc, err := New(Config{Fetch: Stage{Path: "yes"}, Transcode: Stage{Path: "cat"}}).Create(context.Background(), origin)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 100)
	if _, err = io.ReadFull(rc, buf); err != nil {
		t.Fatal(err)
	}
	if err = rc.Close(); err != nil {
		t.Fatal(err)
	}
	if err = rc.Close(); err != nil {
		t.Errorf("second close: %s", err)
	}
	if _, err = rc.Read(buf); err != io.ErrClosedPipe {
		t.Errorf("got %v after close, want %v", err, io.ErrClosedPipe)
	}
}

func TestCancel(t *testing.T) {
	needSh(t)

	ctx, cancel := context.WithCancel(context.Background())
	rc, err := New(Config{Fetch: Stage{Path: "yes"}, Transcode: Stage{Path: "cat"}}).Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	cancel()

	_, err = io.Copy(io.Discard, rc)
	var rerr *fxcache.RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("got %v, want a RuntimeError", err)
	}
}

func TestDefaults(t *testing.T) {
	p := New(Config{Transcode: Stage{Path: "cat"}})
	if diff := cmp.Diff(DefaultConfig.Fetch, p.conf.Fetch); diff != "" {
		t.Errorf("fetch stage mismatch (-want +got):\n%s", diff)
	}

	cmd := command(context.Background(), DefaultConfig.Transcode, origin)
	want := []string{"ffmpeg", "-ss", "3", "-t", "5", "-i", "-", "-f", "mp3", "-"}
	if diff := cmp.Diff(want, cmd.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestLineRing(t *testing.T) {
	r := newLineRing(3)
	for _, s := range []string{"one\ntw", "o\n\nthree\r\n", "four\nfi", "ve"} {
		if _, err := r.Write([]byte(s)); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"three", "four", "five"}
	if diff := cmp.Diff(want, r.Lines()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
