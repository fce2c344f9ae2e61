package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/council-engine/council/pkg/deliberr"
)

// grpcCodecName is registered once at package init so every GRPCBackend
// shares the same wire codec without re-registering per connection.
const grpcCodecName = "council-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets this module speak gRPC (HTTP/2 framing, streaming,
// deadlines) without protoc-generated stubs: messages are plain Go structs
// marshaled as JSON, since gRPC is agnostic to the wire codec.
type jsonCodec struct{}

func (jsonCodec) Name() string { return grpcCodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// wireMessage and wireChunk are the wire shapes for the streaming RPC:
// role-tagged messages in, Kind-tagged chunks out.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	SessionID   string        `json:"session_id"`
	Messages    []wireMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int32        `json:"max_tokens,omitempty"`
}

type wireChunk struct {
	Kind       string `json:"kind"` // "thinking" | "content" | "complete" | "error"
	Delta      string `json:"delta"`
	Cumulative string `json:"cumulative"`
	Usage      *Usage `json:"usage,omitempty"`
	Error      string `json:"error,omitempty"`
}

// GRPCBackend is the concrete Backend transport: a thin client over a gRPC
// streaming RPC.
type GRPCBackend struct {
	id    string
	model string
	conn  *grpc.ClientConn
}

// NewGRPCBackend dials addr and returns a Backend identified by id, issuing
// requests against model.
func NewGRPCBackend(id, addr, model string) (*GRPCBackend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", deliberr.ErrBackendTransport, addr, err)
	}
	return &GRPCBackend{id: id, model: model, conn: conn}, nil
}

// Close releases the underlying connection.
func (b *GRPCBackend) Close() error { return b.conn.Close() }

func (b *GRPCBackend) ID() string { return b.id }

func (b *GRPCBackend) toWireRequest(req CompleteRequest) wireRequest {
	msgs := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return wireRequest{Messages: msgs, Model: b.model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
}

// Complete collects a full Stream call into a single result.
func (b *GRPCBackend) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	chunks, err := b.Stream(ctx, req)
	if err != nil {
		return CompleteResult{}, err
	}
	var content, reasoning string
	var usage Usage
	for c := range chunks {
		switch c.Kind {
		case ChunkThinking:
			reasoning += c.Delta
		case ChunkContent:
			content += c.Delta
		case ChunkComplete:
			if c.Usage != nil {
				usage = *c.Usage
			}
		case ChunkError:
			return CompleteResult{}, fmt.Errorf("%w: %v", deliberr.ErrBackendTransport, c.Err)
		}
	}
	return CompleteResult{Content: content, ReasoningContent: reasoning, Usage: usage}, nil
}

// Stream opens the streaming RPC and translates wire chunks into the
// Backend port's Chunk union. The returned channel is always closed after
// exactly one terminal chunk (ChunkComplete or ChunkError), and a send
// never blocks past ctx cancellation.
func (b *GRPCBackend) Stream(ctx context.Context, req CompleteRequest) (<-chan Chunk, error) {
	desc := &grpc.StreamDesc{StreamName: "GenerateWithThinking", ServerStreams: true}
	stream, err := b.conn.NewStream(ctx, desc, "/council.Backend/GenerateWithThinking",
		grpc.CallContentSubtype(grpcCodecName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deliberr.ErrBackendTransport, err)
	}

	wireReq := b.toWireRequest(req)
	if err := stream.SendMsg(&wireReq); err != nil {
		return nil, fmt.Errorf("%w: %v", deliberr.ErrBackendTransport, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("%w: %v", deliberr.ErrBackendTransport, err)
	}

	out := make(chan Chunk, 100)
	go func() {
		defer close(out)
		var cumulative string
		for {
			var wc wireChunk
			err := stream.RecvMsg(&wc)
			if err == io.EOF {
				send(ctx, out, Chunk{Kind: ChunkComplete, Cumulative: cumulative})
				return
			}
			if err != nil {
				send(ctx, out, Chunk{Kind: ChunkError, Err: fmt.Errorf("%w: %v", deliberr.ErrBackendTransport, err)})
				return
			}

			switch wc.Kind {
			case "thinking":
				send(ctx, out, Chunk{Kind: ChunkThinking, Delta: wc.Delta, Cumulative: wc.Cumulative})
			case "content":
				cumulative += wc.Delta
				send(ctx, out, Chunk{Kind: ChunkContent, Delta: wc.Delta, Cumulative: cumulative})
			case "complete":
				send(ctx, out, Chunk{Kind: ChunkComplete, Cumulative: cumulative, Usage: wc.Usage})
				return
			case "error":
				send(ctx, out, Chunk{Kind: ChunkError, Err: fmt.Errorf("%w: %s", deliberr.ErrBackendTransport, wc.Error)})
				return
			}
		}
	}()
	return out, nil
}

// send delivers a chunk without blocking past context cancellation.
func send(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}
