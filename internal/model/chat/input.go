package chat

import "strings"

// InputKind tags what the user submitted for a turn.
type InputKind string

const (
	InputText  InputKind = "text"
	InputAudio InputKind = "audio"
)

// AudioInput references a recorded clip already written to audio storage.
type AudioInput struct {
	Key        string `json:"key"`
	URL        string `json:"url,omitempty"`
	Format     string `json:"format"`
	Language   string `json:"language,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// Input is the tagged variant handed to the assistant core. Exactly one of
// Text or Audio is meaningful, selected by Kind.
type Input struct {
	Kind  InputKind
	Text  string
	Audio *AudioInput
}

// TextInput builds a text variant.
func TextInput(text string) Input {
	return Input{Kind: InputText, Text: text}
}

// VoiceInput builds an audio variant.
func VoiceInput(audio AudioInput) Input {
	return Input{Kind: InputAudio, Audio: &audio}
}

// IsEmpty reports whether the input carries nothing to answer.
func (in Input) IsEmpty() bool {
	switch in.Kind {
	case InputText:
		return strings.TrimSpace(in.Text) == ""
	case InputAudio:
		return in.Audio == nil || strings.TrimSpace(in.Audio.Key) == ""
	default:
		return true
	}
}
