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
	"strings"
	"sync"

	"arbiter/internal/daemon"
	"arbiter/internal/logging"
	"arbiter/internal/track"
	"arbiter/internal/workflow"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon shutdown requested via IPC", logging.String(logging.FieldEventType, "daemon_stop_requested"))
	s.daemon.RequestShutdown()
	resp.Stopping = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	wf := status.Workflow
	*resp = StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		Watching:     wf.Watching,
		PollInterval: wf.PollInterval.String(),
		LastError:    wf.LastError,
		LockPath:     status.LockFilePath,
		DatabasePath: status.DatabasePath,
		GatewayAddr:  status.GatewayAddr,
		Lanes:        make([]LaneStatus, 0, len(wf.Lanes)),
	}
	for _, lane := range wf.Lanes {
		resp.Lanes = append(resp.Lanes, LaneStatus{
			Track:     string(lane.Track),
			TruthDir:  lane.TruthDir,
			LastTick:  lane.LastTick,
			Ticks:     lane.Ticks,
			Scored:    lane.Scored,
			Failed:    lane.Failed,
			Pending:   lane.LastReport.Pending,
			NotReady:  lane.LastReport.NotReady,
			LastError: lane.LastError,
			Health:    convertHealth(lane.Health),
		})
	}
	for _, dep := range wf.Dependencies {
		resp.Dependencies = append(resp.Dependencies, convertHealth(dep))
	}
	return nil
}

func convertHealth(h workflow.Health) Health {
	return Health{Name: h.Name, Ready: h.Ready, Detail: h.Detail}
}

func parseTrack(name string) (track.ID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	return track.Parse(name)
}

func (s *service) Scan(req ScanRequest, resp *ScanResponse) error {
	id, err := parseTrack(req.Track)
	if err != nil {
		return err
	}
	targets, accepted, err := s.daemon.TriggerScan(id)
	if err != nil {
		return err
	}
	resp.Accepted = accepted
	for _, t := range targets {
		resp.Tracks = append(resp.Tracks, string(t))
	}
	if accepted {
		resp.Message = "scan requested"
	} else {
		resp.Message = "scan already pending"
	}
	return nil
}

func (s *service) Leaderboard(req LeaderboardRequest, resp *LeaderboardResponse) error {
	id, err := parseTrack(req.Track)
	if err != nil {
		return err
	}
	if id == "" {
		return errors.New("track is required")
	}
	def := track.MustLookup(id)
	rows, err := s.daemon.Leaderboard(s.ctx, id, req.Limit)
	if err != nil {
		return err
	}
	*resp = LeaderboardResponse{
		Track:     string(id),
		Label:     def.Label(),
		Primary:   def.Primary,
		Direction: def.Direction.String(),
		Columns:   def.ColumnNames(),
		Rows:      make([]LeaderboardRow, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Rows = append(resp.Rows, LeaderboardRow{
			Rank:      row.Rank,
			Team:      row.Team,
			Values:    row.Values,
			Scored:    row.Scored(),
			UpdatedAt: row.UpdatedAt,
		})
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
