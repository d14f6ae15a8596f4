package speech

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID  string   `json:"sessionId"`
	AudioData  []byte   `json:"-"`
	Encoding   string   `json:"encoding"`   // LINEAR16, MP3, OGG_OPUS, etc.
	SampleRate int      `json:"sampleRate"` // Hz
	Language   string   `json:"language"`   // en-US, fr-FR, etc.
	AltLangs   []string `json:"altLanguages,omitempty"`
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID    string  `json:"sessionId"`
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Language     string  `json:"language"`
	SpeakingRate float32 `json:"speakingRate"`
	Pitch        float32 `json:"pitch"`
}
