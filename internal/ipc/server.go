package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"courier/internal/daemon"
	"courier/internal/logging"
	"courier/internal/queue"
)

// Server accepts CLI connections on a unix socket and dispatches them to
// the daemon.
type Server struct {
	socketPath string
	daemon     *daemon.Daemon
	shutdown   func()
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer builds the IPC server. shutdown is invoked when a client
// requests daemon stop.
func NewServer(socketPath string, d *daemon.Daemon, shutdown func(), logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		daemon:     d,
		shutdown:   shutdown,
		logger:     logging.NewComponentLogger(logger, "ipc"),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and begins serving. A stale socket from a
// crashed daemon is removed first; the instance lock already guarantees
// exclusivity.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &handler{server: s}); err != nil {
		listener.Close()
		return fmt.Errorf("register rpc service: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop(rpcServer)
	s.logger.Info("ipc listening", logging.Args(logging.String("socket", s.socketPath))...)
	return nil
}

func (s *Server) acceptLoop(rpcServer *rpc.Server) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.logger.Warn("ipc accept failed", logging.Args(logging.Error(err))...)
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Stop closes the listener, every open connection, and removes the
// socket file.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handler implements the RPC surface. Exported methods follow the
// net/rpc signature convention.
type handler struct {
	server *Server
}

func (h *handler) Status(_ Empty, resp *StatusResponse) error {
	status, err := h.server.daemon.Status(context.Background())
	if err != nil {
		return err
	}
	resp.Status = status
	return nil
}

func (h *handler) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	item, err := h.server.daemon.Enqueue(context.Background(), req.Payload, queue.Metadata{
		Label:      req.Label,
		Phase:      req.Phase,
		Sequence:   req.Sequence,
		SessionID:  req.SessionID,
		Device:     req.Device,
		CapturedAt: req.CapturedAt,
	})
	if err != nil {
		return err
	}
	resp.Item = item
	return nil
}

func (h *handler) QueueList(_ Empty, resp *QueueListResponse) error {
	resp.Items = h.server.daemon.Queue()
	return nil
}

func (h *handler) QueueProgress(_ Empty, resp *ProgressResponse) error {
	resp.Progress = h.server.daemon.Progress()
	return nil
}

func (h *handler) QueueRetry(_ Empty, resp *CountResponse) error {
	resp.Count = h.server.daemon.RetryFailed()
	return nil
}

func (h *handler) QueueClear(_ Empty, resp *CountResponse) error {
	count, err := h.server.daemon.Clear(context.Background())
	if err != nil {
		return err
	}
	resp.Count = count
	return nil
}

func (h *handler) QueueResume(_ Empty, resp *ResumeResponse) error {
	resp.Resumed = h.server.daemon.Resume()
	return nil
}

func (h *handler) TestNotification(_ Empty, _ *Empty) error {
	return h.server.daemon.TestNotification(context.Background())
}

// Stop schedules daemon shutdown. The reply is sent before the shutdown
// callback runs so the client sees a clean response.
func (h *handler) Stop(_ Empty, _ *Empty) error {
	if h.server.shutdown != nil {
		go h.server.shutdown()
	}
	return nil
}
