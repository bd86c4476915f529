package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klejdi94/relay/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAllLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	lr := newLineReader(r)
	var out []string
	for {
		line, err := lr.next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(line))
	}
}

func TestLineReader_SplitIndependent(t *testing.T) {
	input := "first\r\nsecond\n\nthird-without-newline"
	want := []string{"first", "second", "", "third-without-newline"}
	assert.Equal(t, want, readAllLines(t, strings.NewReader(input)))
	assert.Equal(t, want, readAllLines(t, iotest.OneByteReader(strings.NewReader(input))))
	assert.Equal(t, want, readAllLines(t, iotest.HalfReader(strings.NewReader(input))))
}

func TestLineReader_LongLine(t *testing.T) {
	long := strings.Repeat("z", 3*readChunkSize+17)
	assert.Equal(t, []string{long, "tail"}, readAllLines(t, strings.NewReader(long+"\ntail\n")))
}

func TestLineReader_CancelledBetweenReads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLineReader(strings.NewReader("no newline yet")).next(ctx)
	assert.True(t, core.IsCancelled(err))
}

func TestLineStream_SkipsMalformedAndBlank(t *testing.T) {
	body := io.NopCloser(strings.NewReader("{\"response\":\"a\",\"done\":false}\n\nnot json\n{\"response\":\"\",\"done\":false}\n{\"response\":\"b\",\"done\":true}\n"))
	s := newLineStream(context.Background(), body, "local", decodeLocalLine, zerolog.Nop())
	var got []core.Delta
	for s.Next() {
		got = append(got, s.Current())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []core.Delta{{Text: "a"}, {Text: "ab", Final: true}}, got)
}

func TestLineStream_SplitIndependent(t *testing.T) {
	openai, _ := LookupDialect(DialectOpenAI)
	anthropic, _ := LookupDialect(DialectAnthropic)
	cases := []struct {
		name   string
		decode decodeFunc
		body   string
		final  string
	}{
		{
			name:   "openai",
			decode: openai.decode,
			body: ": keep-alive\r\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"Hé\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"llo 🌍\"},\"finish_reason\":null}]}\n\n" +
				"data: [DONE]\n",
			final: "Héllo 🌍",
		},
		{
			name:   "anthropic",
			decode: anthropic.decode,
			body: "event: content_block_delta\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hé\"}}\n\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"llo 🌍\"}}\n\n" +
				"event: message_stop\n" +
				"data: {\"type\":\"message_stop\"}\n",
			final: "Héllo 🌍",
		},
		{
			name:   "ndjson",
			decode: decodeLocalLine,
			body:   "{\"response\":\"Hé\",\"done\":false}\n{\"response\":\"llo 🌍\",\"done\":false}\n{\"response\":\"\",\"done\":true}",
			final:  "Héllo 🌍",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			read := func(r io.Reader) []core.Delta {
				return collectDeltas(t, newLineStream(context.Background(), io.NopCloser(r), tc.name, tc.decode, zerolog.Nop()))
			}
			want := read(strings.NewReader(tc.body))
			require.NotEmpty(t, want)
			last := want[len(want)-1]
			assert.True(t, last.Final)
			assert.Equal(t, tc.final, last.Text)

			assert.Equal(t, want, read(iotest.OneByteReader(strings.NewReader(tc.body))))
			assert.Equal(t, want, read(iotest.HalfReader(strings.NewReader(tc.body))))
		})
	}
}
