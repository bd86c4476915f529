package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klejdi94/relay/core"
	"github.com/rs/zerolog"
)

const readChunkSize = 4096

// lineReader splits a byte stream into lines regardless of how the bytes are
// chunked, checking for cancellation before every read.
type lineReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	eof   bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, chunk: make([]byte, readChunkSize)}
}

// next returns the next line without its terminator. The slice is valid until
// the following call. A non-empty unterminated tail is returned as a last line.
func (lr *lineReader) next(ctx context.Context) ([]byte, error) {
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			line := lr.buf[:i]
			lr.buf = lr.buf[i+1:]
			return bytes.TrimSuffix(line, []byte{'\r'}), nil
		}
		if lr.eof {
			if len(lr.buf) > 0 {
				line := lr.buf
				lr.buf = nil
				return bytes.TrimSuffix(line, []byte{'\r'}), nil
			}
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, &core.CancelledError{Cause: err}
		}
		n, err := lr.r.Read(lr.chunk)
		lr.buf = append(lr.buf, lr.chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				lr.eof = true
				continue
			}
			if cerr := ctx.Err(); cerr != nil {
				return nil, &core.CancelledError{Cause: cerr}
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}
}

// frame is one decoded line of a provider stream.
type frame struct {
	text string
	done bool
}

// decodeFunc decodes a single non-blank line. ok is false for lines that carry
// no frame; a non-nil error marks the line as malformed.
type decodeFunc func(line []byte) (f frame, ok bool, err error)

// newLineStream accumulates fragments into cumulative deltas. Empty non-final
// fragments produce no delta; a done frame produces the final delta and ends
// the stream; malformed lines are logged and skipped.
func newLineStream(ctx context.Context, body io.ReadCloser, providerID string, decode decodeFunc, logger zerolog.Logger) *Stream {
	lr := newLineReader(body)
	var acc strings.Builder
	pull := func() (core.Delta, error) {
		for {
			line, err := lr.next(ctx)
			if err != nil {
				return core.Delta{}, err
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			f, ok, err := decode(line)
			if err != nil {
				logger.Warn().Err(err).Str("provider", providerID).Msg("skipping malformed stream line")
				continue
			}
			if !ok {
				continue
			}
			acc.WriteString(f.text)
			if f.done {
				return core.Delta{Text: acc.String(), Final: true}, nil
			}
			if f.text == "" {
				continue
			}
			return core.Delta{Text: acc.String()}, nil
		}
	}
	return NewStream(pull, body.Close)
}
