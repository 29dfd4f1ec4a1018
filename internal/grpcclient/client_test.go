package grpcclient

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/voicenote/internal/resilience"
	"github.com/GriffinCanCode/voicenote/internal/trace"
	"github.com/GriffinCanCode/voicenote/pkg/wire"
)

// fakeBackend implements the speech and LLM services with canned behavior.
type fakeBackend struct {
	mu          sync.Mutex
	config      *wire.RecognitionConfig
	chunks      [][]byte
	sessionIDs  []string
	completeErr error
	prompts     []string
}

func (f *fakeBackend) recordSession(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.mu.Lock()
	f.sessionIDs = append(f.sessionIDs, md.Get(trace.SessionIDKey)...)
	f.mu.Unlock()
}

func streamingRecognizeHandler(srv any, stream grpc.ServerStream) error {
	f := srv.(*fakeBackend)
	f.recordSession(stream.Context())

	first := new(wire.StreamingRecognizeRequest)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	if first.Config == nil {
		return status.Error(codes.InvalidArgument, "config must come first")
	}
	f.mu.Lock()
	f.config = first.Config
	f.mu.Unlock()

	for {
		req := new(wire.StreamingRecognizeRequest)
		err := stream.RecvMsg(req)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.chunks = append(f.chunks, req.AudioContent)
		f.mu.Unlock()

		text := string(req.AudioContent)
		if err := stream.SendMsg(&wire.RecognizeResponse{Text: text}); err != nil {
			return err
		}
		if err := stream.SendMsg(&wire.RecognizeResponse{Text: text, IsFinal: true, Confidence: 0.92}); err != nil {
			return err
		}
	}
}

func recognizeHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(wire.RecognizeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return &wire.RecognizeResponse{Text: "heard " + string(req.Audio), IsFinal: true, Confidence: 0.8}, nil
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	f := srv.(*fakeBackend)
	req := new(wire.CompleteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	err := f.completeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &wire.CompleteResponse{Content: `{"names":["Jane"]}`}, nil
}

var speechServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.SpeechService,
	HandlerType: (*any)(nil),
	Methods:     []grpc.MethodDesc{{MethodName: "Recognize", Handler: recognizeHandler}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamingRecognize",
		Handler:       streamingRecognizeHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
}

var llmServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.LLMService,
	HandlerType: (*any)(nil),
	Methods:     []grpc.MethodDesc{{MethodName: "Complete", Handler: completeHandler}},
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeBackend) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	backend := &fakeBackend{}

	srv := grpc.NewServer()
	srv.RegisterService(&speechServiceDesc, backend)
	srv.RegisterService(&llmServiceDesc, backend)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := New("passthrough:///bufnet", cfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, backend
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.KeepaliveTime != 10*time.Second {
		t.Errorf("KeepaliveTime = %v, want 10s", cfg.KeepaliveTime)
	}
	if cfg.KeepaliveTimeout != 3*time.Second {
		t.Errorf("KeepaliveTimeout = %v, want 3s", cfg.KeepaliveTimeout)
	}
	if cfg.LLMBreaker.Name != "llm" {
		t.Errorf("LLMBreaker.Name = %q, want llm", cfg.LLMBreaker.Name)
	}
}

func TestBreakerAliases(t *testing.T) {
	if CircuitClosed != resilience.Closed || CircuitOpen != resilience.Open || CircuitHalfOpen != resilience.HalfOpen {
		t.Error("state aliases do not match resilience states")
	}
	if ErrCircuitOpen != resilience.ErrOpen {
		t.Error("ErrCircuitOpen != resilience.ErrOpen")
	}
}

func TestRecognizeStreamRoundTrip(t *testing.T) {
	client, backend := newTestClient(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(trace.WithSession(context.Background(), "sess-42"), 5*time.Second)
	defer cancel()

	stream, err := client.OpenRecognizeStream(ctx, wire.RecognitionConfig{LanguageCode: "en-US", SampleRateHertz: 16000, InterimResults: true})
	if err != nil {
		t.Fatalf("OpenRecognizeStream() error = %v", err)
	}

	if err := stream.Send([]byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	interim, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if interim.IsFinal || interim.Text != "hello" {
		t.Errorf("first result = %+v, want interim 'hello'", interim)
	}
	final, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !final.IsFinal || final.Confidence != 0.92 {
		t.Errorf("second result = %+v, want final with confidence 0.92", final)
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error = %v", err)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv() after CloseSend = %v, want io.EOF", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.config == nil || backend.config.LanguageCode != "en-US" {
		t.Errorf("backend config = %+v, want en-US", backend.config)
	}
	if len(backend.sessionIDs) != 1 || backend.sessionIDs[0] != "sess-42" {
		t.Errorf("session metadata = %v, want [sess-42]", backend.sessionIDs)
	}
}

func TestRecognize(t *testing.T) {
	client, _ := newTestClient(t, DefaultConfig())

	resp, err := client.Recognize(context.Background(), wire.RecognitionConfig{LanguageCode: "en-US"}, []byte("note"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if resp.Text != "heard note" || !resp.IsFinal {
		t.Errorf("Recognize() = %+v", resp)
	}
}

func TestCompleteOpensBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLMBreaker = resilience.Config{Name: "llm", Threshold: 2, ResetTimeout: time.Hour, HalfOpenSuccesses: 1}
	client, backend := newTestClient(t, cfg)

	got, err := client.Complete(context.Background(), &wire.CompleteRequest{Prompt: "who?"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != `{"names":["Jane"]}` {
		t.Errorf("Complete() = %q", got)
	}

	backend.mu.Lock()
	backend.completeErr = status.Error(codes.Unavailable, "model down")
	backend.mu.Unlock()

	for i := 0; i < 2; i++ {
		if _, err := client.Complete(context.Background(), &wire.CompleteRequest{Prompt: "who?"}); status.Code(err) != codes.Unavailable {
			t.Fatalf("Complete() error = %v, want Unavailable", err)
		}
	}
	if client.LLMState() != CircuitOpen {
		t.Fatalf("breaker state = %v, want open", client.LLMState())
	}

	_, err = client.Complete(context.Background(), &wire.CompleteRequest{Prompt: "who?"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Complete() with open breaker = %v, want ErrCircuitOpen", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.prompts) != 3 {
		t.Errorf("backend saw %d prompts, want 3 (open breaker must not call)", len(backend.prompts))
	}
}
