package cluster

import (
	"context"
	"errors"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/log"
)

// Handler answers one request frame with a response frame's tag and
// payload (payload may be nil for Ack-only responses).
type Handler func(ctx context.Context, conn *quic.Conn, req Frame) (MessageType, any, error)

// Server accepts QUIC connections and dispatches every stream's first
// frame to the Handler registered for its tag.
type Server struct {
	ln       *quic.Listener
	handlers map[MessageType]Handler
}

func NewServer(ln *quic.Listener) *Server {
	return &Server{ln: ln, handlers: map[MessageType]Handler{}}
}

func (s *Server) Handle(tag MessageType, h Handler) {
	s.handlers[tag] = h
}

// Serve accepts connections until ctx is cancelled, spawning one goroutine
// per connection and, within it, one goroutine per stream.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.FromContext(ctx).Warnw("accept failed", "err", err)
			continue
		}
		g.Go(func() error {
			s.serveConn(ctx, conn)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) serveConn(ctx context.Context, conn *quic.Conn) {
	logger := log.FromContext(ctx).With("remote", conn.RemoteAddr().String())
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debugw("connection closed", "err", err)
			}
			return
		}
		go s.serveStream(log.Into(ctx, logger), conn, stream)
	}
}

func (s *Server) serveStream(ctx context.Context, conn *quic.Conn, stream *quic.Stream) {
	defer stream.Close()

	req, err := ReadFrame(stream)
	if err != nil {
		log.FromContext(ctx).Warnw("read frame failed", "err", err)
		return
	}

	h, ok := s.handlers[req.Type]
	if !ok {
		_ = WriteFrame(stream, req.RequestID, ErrorMsg, ErrorMessage{
			Kind: string(apis.ErrConfiguration), Message: "unknown message type " + req.Type.String(),
		})
		return
	}

	respTag, respPayload, err := h(ctx, conn, req)
	if err != nil {
		kind := string(apis.ErrFatal)
		var kerr *apis.KindedError
		if errors.As(err, &kerr) {
			kind = string(kerr.Kind)
		}
		_ = WriteFrame(stream, req.RequestID, ErrorMsg, ErrorMessage{Kind: kind, Message: err.Error()})
		return
	}
	if err := WriteFrame(stream, req.RequestID, respTag, respPayload); err != nil {
		log.FromContext(ctx).Warnw("write response failed", "err", err)
	}
}
