package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor tags each backend call with a child span of the
// caller's trace and logs its outcome at debug level.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = outgoing(ctx)
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		Logger(ctx).Debug("backend call", "method", method, "code", status.Code(err).String(), "duration", time.Since(start))
		return err
	}
}

// StreamClientInterceptor tags each backend stream with a child span. Speech
// streams reopened after a transport failure get a fresh span under the same trace.
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx = outgoing(ctx)
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			Logger(ctx).Debug("backend stream open failed", "method", method, "error", err)
		}
		return cs, err
	}
}

// outgoing derives a child span and copies it into outgoing metadata.
func outgoing(ctx context.Context) context.Context {
	parent, ok := FromContext(ctx)
	if !ok {
		parent = New()
	}
	tc := NewChild(parent)
	ctx = WithContext(ctx, tc)

	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	for k, v := range tc.ToMap() {
		md.Set(k, v)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
