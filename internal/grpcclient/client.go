// Package grpcclient provides the client for the speech-recognition and language-model gRPC backends.
package grpcclient

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/voicenote/internal/resilience"
	"github.com/GriffinCanCode/voicenote/internal/trace"
	"github.com/GriffinCanCode/voicenote/pkg/wire"
)

// Re-exported breaker states so callers reporting health need not import resilience.
const (
	CircuitClosed   = resilience.Closed
	CircuitOpen     = resilience.Open
	CircuitHalfOpen = resilience.HalfOpen
)

// ErrCircuitOpen is returned by Complete while the language-model breaker is open.
var ErrCircuitOpen = resilience.ErrOpen

// Recognize streams sit idle between utterances, so keepalive pings hold them open.
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second
	DefaultCallTimeout      = time.Minute
)

// Config holds connection settings. CallTimeout bounds unary calls only.
type Config struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	CallTimeout      time.Duration
	LLMBreaker       resilience.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	llm := resilience.FastConfig()
	llm.Name = "llm"
	return Config{
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		CallTimeout:      DefaultCallTimeout,
		LLMBreaker:       llm,
	}
}

// RecognizeStream is one open bidirectional recognition stream.
// The recognition config has already been sent when it is returned.
type RecognizeStream interface {
	Send(audio []byte) error
	Recv() (*wire.RecognizeResponse, error)
	CloseSend() error
}

// Client wraps the backend connection. One connection is shared by all sessions.
type Client struct {
	conn       *grpc.ClientConn
	cfg        Config
	llmBreaker *resilience.Breaker
}

// New creates a client for addr. Extra dial options are appended after the defaults.
func New(addr string, cfg Config, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(trace.StreamClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(dialOpts, opts...)...)
	if err != nil {
		return nil, err
	}

	breaker := resilience.New(cfg.LLMBreaker).WithHook(func(from, to resilience.State) {
		slog.Info("llm backend state changed", "from", from, "to", to)
	})
	return &Client{conn: conn, cfg: cfg, llmBreaker: breaker}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// LLMState reports the language-model breaker state.
func (c *Client) LLMState() resilience.State {
	return c.llmBreaker.State()
}

// OpenRecognizeStream opens a streaming recognition call and sends cfg as its first message.
// The stream lives until ctx is cancelled or CloseSend is followed by the server ending it.
func (c *Client) OpenRecognizeStream(ctx context.Context, cfg wire.RecognitionConfig) (RecognizeStream, error) {
	cs, err := c.conn.NewStream(ctx, &wire.StreamingRecognizeDesc, wire.MethodStreamingRecognize)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&wire.StreamingRecognizeRequest{Config: &cfg}); err != nil {
		return nil, err
	}
	return &recognizeStream{cs: cs}, nil
}

// Recognize transcribes a complete audio buffer in one call.
func (c *Client) Recognize(ctx context.Context, cfg wire.RecognitionConfig, audio []byte) (*wire.RecognizeResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp := new(wire.RecognizeResponse)
	if err := c.conn.Invoke(ctx, wire.MethodRecognize, &wire.RecognizeRequest{Config: cfg, Audio: audio}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Complete sends a prompt to the language model and returns its text.
func (c *Client) Complete(ctx context.Context, req *wire.CompleteRequest) (string, error) {
	return resilience.Call(c.llmBreaker, func() (string, error) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		resp := new(wire.CompleteResponse)
		if err := c.conn.Invoke(ctx, wire.MethodComplete, req, resp); err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

type recognizeStream struct {
	cs grpc.ClientStream
}

func (s *recognizeStream) Send(audio []byte) error {
	return s.cs.SendMsg(&wire.StreamingRecognizeRequest{AudioContent: audio})
}

func (s *recognizeStream) Recv() (*wire.RecognizeResponse, error) {
	resp := new(wire.RecognizeResponse)
	if err := s.cs.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *recognizeStream) CloseSend() error {
	return s.cs.CloseSend()
}
