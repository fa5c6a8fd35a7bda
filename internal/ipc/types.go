package ipc

import "time"

// ServiceName is the RPC receiver name registered by the server.
const ServiceName = "Arbiter"

// StopRequest asks the daemon process to exit.
type StopRequest struct{}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// Health mirrors a lane or dependency health record.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// LaneStatus describes one track lane.
type LaneStatus struct {
	Track     string    `json:"track"`
	TruthDir  string    `json:"truth_dir"`
	LastTick  time.Time `json:"last_tick"`
	Ticks     int       `json:"ticks"`
	Scored    int       `json:"scored"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
	NotReady  int       `json:"not_ready"`
	LastError string    `json:"last_error,omitempty"`
	Health    Health    `json:"health"`
}

// StatusResponse represents combined daemon and workflow status.
type StatusResponse struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	Watching     bool         `json:"watching"`
	PollInterval string       `json:"poll_interval"`
	LastError    string       `json:"last_error,omitempty"`
	LockPath     string       `json:"lock_path"`
	DatabasePath string       `json:"database_path"`
	GatewayAddr  string       `json:"gateway_addr,omitempty"`
	Lanes        []LaneStatus `json:"lanes"`
	Dependencies []Health     `json:"dependencies,omitempty"`
}

// ScanRequest asks for an early tick. An empty track means every lane.
type ScanRequest struct {
	Track string `json:"track"`
}

// ScanResponse reports which lanes were asked to scan.
type ScanResponse struct {
	Tracks   []string `json:"tracks"`
	Accepted bool     `json:"accepted"`
	Message  string   `json:"message"`
}

// LeaderboardRequest fetches the top rows of a track.
type LeaderboardRequest struct {
	Track string `json:"track"`
	Limit int    `json:"limit"`
}

// LeaderboardRow is one ranked team.
type LeaderboardRow struct {
	Rank      int                `json:"rank"`
	Team      string             `json:"team"`
	Values    map[string]float64 `json:"values"`
	Scored    bool               `json:"scored"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// LeaderboardResponse carries the ranked rows and column layout.
type LeaderboardResponse struct {
	Track     string           `json:"track"`
	Label     string           `json:"label"`
	Primary   string           `json:"primary"`
	Direction string           `json:"direction"`
	Columns   []string         `json:"columns"`
	Rows      []LeaderboardRow `json:"rows"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
