package provider

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Dialect names understood by LookupDialect.
const (
	DialectOpenAI    = "openai"
	DialectAnthropic = "anthropic"
)

// Dialect captures the per-backend differences of server-sent-event chat APIs:
// authentication, endpoint paths and where text and completion live in each event.
type Dialect struct {
	Name         string
	AuthHeader   string
	AuthPrefix   string
	Headers      map[string]string
	ChatPath     string
	ModelsPath   string
	TextPath     string
	DonePath     string
	DoneValue    string
	MaxTokensKey string
	// DefaultMaxTokens is sent when the request leaves MaxTokens unset; zero omits the field.
	DefaultMaxTokens int
}

var dialects = map[string]Dialect{
	DialectOpenAI: {
		Name:         DialectOpenAI,
		AuthHeader:   "Authorization",
		AuthPrefix:   "Bearer ",
		ChatPath:     "/v1/chat/completions",
		ModelsPath:   "/v1/models",
		TextPath:     "choices.0.delta.content",
		DonePath:     "choices.0.finish_reason",
		MaxTokensKey: "max_tokens",
	},
	DialectAnthropic: {
		Name:             DialectAnthropic,
		AuthHeader:       "x-api-key",
		Headers:          map[string]string{"anthropic-version": "2023-06-01"},
		ChatPath:         "/v1/messages",
		ModelsPath:       "/v1/models",
		TextPath:         "delta.text",
		DonePath:         "type",
		DoneValue:        "message_stop",
		MaxTokensKey:     "max_tokens",
		DefaultMaxTokens: 1024,
	},
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialects[name]
	return d, ok
}

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// decode turns one event-stream line into a frame. Lines that are not data
// events (comments, event names, ids) carry no frame.
func (d Dialect) decode(line []byte) (frame, bool, error) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return frame{}, false, nil
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(data, doneMarker) {
		return frame{done: true}, true, nil
	}
	if !gjson.ValidBytes(data) {
		return frame{}, false, errMalformedEvent
	}
	return frame{
		text: gjson.GetBytes(data, d.TextPath).String(),
		done: d.finished(data),
	}, true, nil
}

func (d Dialect) finished(data []byte) bool {
	if d.DonePath == "" {
		return false
	}
	r := gjson.GetBytes(data, d.DonePath)
	if !r.Exists() || r.Type == gjson.Null {
		return false
	}
	if d.DoneValue != "" {
		return r.String() == d.DoneValue
	}
	switch r.Type {
	case gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	}
	return true
}
