package core

// Options tunes a single completion.
type Options struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stream      bool
}

// CompletionRequest is the provider-independent request for one user turn.
type CompletionRequest struct {
	ProviderID string
	Model      string
	Prompt     string
	Options    Options
}

// NewRequest builds a streaming request with default options.
func NewRequest(providerID, model, prompt string) CompletionRequest {
	return CompletionRequest{
		ProviderID: providerID,
		Model:      model,
		Prompt:     prompt,
		Options:    Options{Stream: true},
	}
}

// Delta is one increment of a streaming completion.
// Text is cumulative: consumers replace their buffer with it rather than append.
type Delta struct {
	Text  string
	Final bool
}
