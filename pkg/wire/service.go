package wire

import "google.golang.org/grpc"

// Service and method names.
const (
	SpeechService = "voicenote.speech.v1.Speech"
	LLMService    = "voicenote.llm.v1.LLM"

	MethodStreamingRecognize = "/" + SpeechService + "/StreamingRecognize"
	MethodRecognize          = "/" + SpeechService + "/Recognize"
	MethodComplete           = "/" + LLMService + "/Complete"
)

// StreamingRecognizeDesc describes the bidirectional recognition stream.
var StreamingRecognizeDesc = grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ClientStreams: true,
	ServerStreams: true,
}
