// Package wire defines the messages exchanged with the speech and language-model backends.
// Messages are plain structs carried over gRPC with the JSON codec registered in codec.go.
package wire

// Audio encodings understood by the speech backend.
const (
	EncodingLinear16 = "LINEAR16"
	EncodingFloat32  = "FLOAT32"
)

// Response formats for completions.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// RecognitionConfig describes the audio carried by a recognition request.
type RecognitionConfig struct {
	LanguageCode    string `json:"language_code"`
	SampleRateHertz int32  `json:"sample_rate_hertz"`
	Encoding        string `json:"encoding"`
	InterimResults  bool   `json:"interim_results"`
}

// StreamingRecognizeRequest is one message on the client side of a streaming recognition.
// The first message carries only Config; every later message carries only AudioContent.
type StreamingRecognizeRequest struct {
	Config       *RecognitionConfig `json:"config,omitempty"`
	AudioContent []byte             `json:"audio_content,omitempty"`
}

// RecognizeRequest is a one-shot recognition of a complete buffer.
type RecognizeRequest struct {
	Config RecognitionConfig `json:"config"`
	Audio  []byte            `json:"audio"`
}

// RecognizeResponse is a single recognition result. On a stream, results with
// IsFinal=false are interim and superseded by the next result for the same utterance.
type RecognizeResponse struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float32 `json:"confidence"`
}

// CompleteRequest asks the language model for a single completion.
type CompleteRequest struct {
	System         string  `json:"system,omitempty"`
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	Temperature    float32 `json:"temperature"`
	MaxTokens      int32   `json:"max_tokens,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// CompleteResponse holds the model output.
type CompleteResponse struct {
	Content string `json:"content"`
}
