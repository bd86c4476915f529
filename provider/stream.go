package provider

import (
	"errors"
	"io"
	"sync"

	"github.com/klejdi94/relay/core"
)

// ErrStreamClosed is reported to Tap observers when a stream is closed before its final delta.
var ErrStreamClosed = errors.New("stream closed before final delta")

// Stream is a pull-based sequence of cumulative deltas. It yields at most one
// final delta, always last, and releases its source after the final delta, an
// error, or Close. A Stream is owned by a single goroutine.
type Stream struct {
	pull    func() (core.Delta, error)
	closeFn func() error

	cur  core.Delta
	err  error
	done bool

	closeOnce sync.Once
	closeErr  error
}

// NewStream builds a Stream from a pull function and a release function.
// pull returns io.EOF when the source is exhausted; ending before a final
// delta is reported as core.ErrIncompleteStream.
func NewStream(pull func() (core.Delta, error), closeFn func() error) *Stream {
	return &Stream{pull: pull, closeFn: closeFn}
}

// Next advances to the next delta. It returns false when the stream is over.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	d, err := s.pull()
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			err = core.ErrIncompleteStream
		}
		s.err = err
		s.Close()
		return false
	}
	s.cur = d
	if d.Final {
		s.done = true
		s.Close()
	}
	return true
}

// Current returns the delta produced by the last successful Next.
func (s *Stream) Current() core.Delta {
	return s.cur
}

// Err returns the error that ended the stream, or nil after a final delta.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying source. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// Collect drains s and returns the text of its final delta.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	for s.Next() {
		if d := s.Current(); d.Final {
			return d.Text, nil
		}
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return "", core.ErrIncompleteStream
}

// Tap returns a stream that forwards every delta of s to onDelta and reports
// how s ended to onEnd exactly once.
func Tap(s *Stream, onDelta func(core.Delta), onEnd func(final bool, err error)) *Stream {
	var once sync.Once
	end := func(final bool, err error) {
		once.Do(func() {
			if onEnd != nil {
				onEnd(final, err)
			}
		})
	}
	pull := func() (core.Delta, error) {
		if !s.Next() {
			err := s.Err()
			if err == nil {
				err = core.ErrIncompleteStream
			}
			end(false, err)
			return core.Delta{}, err
		}
		d := s.Current()
		if onDelta != nil {
			onDelta(d)
		}
		if d.Final {
			end(true, nil)
		}
		return d, nil
	}
	return NewStream(pull, func() error {
		end(false, ErrStreamClosed)
		return s.Close()
	})
}

// StaticStream returns a stream that yields deltas in order. It is meant for tests and fakes.
func StaticStream(deltas ...core.Delta) *Stream {
	i := 0
	return NewStream(func() (core.Delta, error) {
		if i >= len(deltas) {
			return core.Delta{}, io.EOF
		}
		d := deltas[i]
		i++
		return d, nil
	}, nil)
}
