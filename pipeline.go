package fxcache

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Pipeline produces the bytes of a clip.
type Pipeline interface {
	// Create starts producing the clip described by origin
	// and returns a stream of its bytes.
	// Failures that happen after Create returns
	// are reported as errors from the stream's Read.
	// The caller must close the stream;
	// closing it before the end releases whatever is producing the bytes.
	Create(ctx context.Context, origin MediaOrigin) (io.ReadCloser, error)
}

// Stage names one of the two steps of an acquisition pipeline.
type Stage int

const (
	// FetchStage downloads the full source.
	FetchStage Stage = iota + 1

	// TranscodeStage cuts the time window out of the fetched source and converts its format.
	TranscodeStage
)

func (s Stage) String() string {
	switch s {
	case FetchStage:
		return "fetch"
	case TranscodeStage:
		return "transcode"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// LaunchError is returned by Pipeline.Create when a stage could not be started.
type LaunchError struct {
	Stage Stage
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s stage: %s", e.Stage, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// RuntimeError is returned from a pipeline stream's Read
// when a stage fails after it has started.
type RuntimeError struct {
	Stage Stage
	Err   error

	// Stderr holds the last lines the failing stage wrote to its standard error, if known.
	Stderr []string
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s stage failed: %s", e.Stage, e.Err)
	if len(e.Stderr) > 0 {
		msg += " (" + strings.Join(e.Stderr, "; ") + ")"
	}
	return msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CacheError reports a failure of the cache store during lookup.
// A miss is not a CacheError.
type CacheError struct {
	Err error
}

func (e *CacheError) Error() string {
	return "cache lookup: " + e.Err.Error()
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// CreateError reports a failure of the underlying pipeline.
type CreateError struct {
	Err error
}

func (e *CreateError) Error() string {
	return "creating clip: " + e.Err.Error()
}

func (e *CreateError) Unwrap() error {
	return e.Err
}
