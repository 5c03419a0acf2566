package model

// Slide is one card of a carousel format. Field names follow the JSON the
// drafting backend is instructed to emit, so a draft parses straight into
// this type.
type Slide struct {
	Number      int    `json:"slideNumber"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ImagePrompt string `json:"imagePrompt"`
	ImageURL    string `json:"imageUrl,omitempty"`
}
