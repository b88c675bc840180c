package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"ppi-control/internal/domain"
	"ppi-control/internal/infra/middleware"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// AuditSource streams appended audit entries.
type AuditSource interface {
	OnAudit(fn domain.AuditFunc) func()
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() { cc.closeOnce.Do(func() { close(cc.done) }) }

// Option configures a Server.
type Option func(*Server)

// WithAuditSource forwards every audit entry to connected clients.
func WithAuditSource(src AuditSource) Option {
	return func(s *Server) { s.audit = src }
}

// WithRateLimit applies a per-client token bucket to every HTTP request,
// including the websocket upgrade.
func WithRateLimit(cfg middleware.RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// Server is the WebSocket gateway. It exposes RPC methods and pushes
// broadcasts and audit entries to every connected client.
type Server struct {
	bus        domain.EventBus
	audit      AuditSource
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	rateLimit  middleware.RateLimitConfig
	httpSrv    *http.Server
	boundAddr  atomic.Value // string
	nextID     atomic.Uint64
	clientsN   atomic.Int64
	pushed     atomic.Int64
	dropped    atomic.Int64
	unsubs     []func()
	httpRoutes []httpRoute
	stopOnce   sync.Once
	stopErr    error
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger.With("component", "gateway"),
		addr:     addr,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.httpSrv = &http.Server{
		Handler: middleware.Chain(mux,
			middleware.Recover(s.logger),
			middleware.SecurityHeaders,
			middleware.RateLimit(ctx, s.rateLimit),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.bus != nil {
		s.unsubs = append(s.unsubs, s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			s.pushEvent(event)
		}))
	}
	if s.audit != nil {
		s.unsubs = append(s.unsubs, s.audit.OnAudit(func(entry domain.FeedEntry) {
			data, err := json.Marshal(entry)
			if err != nil {
				s.logger.Warn("audit entry not encodable", "seq", entry.Seq, "error", err)
				return
			}
			s.pushEvent(domain.Event{Type: domain.EventFeedAppended, Timestamp: entry.CreatedAt, Payload: data})
		}))
	}

	// Published last: BoundAddr becoming non-empty means Stop is safe to call.
	s.boundAddr.Store(listener.Addr().String())
	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every client connection and shuts the HTTP server down.
// Only the first call does any work.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.stop(ctx) })
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	for _, unsub := range s.unsubs {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int64 { return s.clientsN.Load() }

// pushEvent queues event on every client. Slow clients lose frames rather
// than stall the publisher.
func (s *Server) pushEvent(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: string(event.Type), Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
			s.pushed.Add(1)
		default:
			s.dropped.Add(1)
			s.logger.Warn("dropped event for slow client", "client", cc.info.Name, "event", string(event.Type))
		}
		return true
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.Clients()})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.clientsN.Add(1)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	if _, loaded := s.clients.LoadAndDelete(connID); loaded {
		ws.Close(websocket.StatusNormalClosure, "")
	}
	s.clientsN.Add(-1)
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// dispatchRPC runs the handler detached from the connection so a client
// disconnect never aborts a workflow halfway.
func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError("Gateway.dispatch", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	result, err := handler(context.WithoutCancel(ctx), cc.info, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	default:
		s.logger.Warn("dropped RPC response for slow client", "frame_id", id)
	}
}
