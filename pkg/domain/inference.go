package domain

// Prompt is a single-turn request for an inference backend.
type Prompt struct {
	System    string `json:"system"`
	User      string `json:"user"`
	MaxTokens int    `json:"max_tokens"`
}

// Completion is the backend's answer to a Prompt.
// Response is empty when the backend returned no text.
type Completion struct {
	Response string `json:"response"`
}
