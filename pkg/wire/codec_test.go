package wire

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	if c == nil {
		t.Fatal("json codec not registered")
	}
	if c.Name() != CodecName {
		t.Errorf("Name() = %q, want %q", c.Name(), CodecName)
	}
}

func TestStreamingRequestOmitsEmptyParts(t *testing.T) {
	data, err := Codec{}.Marshal(&StreamingRecognizeRequest{AudioContent: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "config") {
		t.Errorf("audio message should not carry config: %s", data)
	}

	var got StreamingRecognizeRequest
	if err := (Codec{}).Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(got.AudioContent, []byte{1, 2, 3}) {
		t.Errorf("AudioContent = %v, want [1 2 3]", got.AudioContent)
	}
	if got.Config != nil {
		t.Error("Config should be nil")
	}
}

func TestUnmarshalError(t *testing.T) {
	var resp RecognizeResponse
	if err := (Codec{}).Unmarshal([]byte("{not json"), &resp); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestMethodNames(t *testing.T) {
	if MethodStreamingRecognize != "/voicenote.speech.v1.Speech/StreamingRecognize" {
		t.Errorf("MethodStreamingRecognize = %q", MethodStreamingRecognize)
	}
	if !StreamingRecognizeDesc.ClientStreams || !StreamingRecognizeDesc.ServerStreams {
		t.Error("StreamingRecognize must be bidirectional")
	}
}
