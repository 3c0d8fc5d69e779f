// Package config loads the server configuration from a JSON file. Every
// field is optional; the Get* accessors supply defaults for fields the file
// omits, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the checked-in defaults file.
const DefaultConfigPath = "config/server.defaults.json"

// ServerConfig is the root configuration for articulate-server.
type ServerConfig struct {
	// Listeners
	ListenAddr     *string  `json:"listen_addr,omitempty"`
	GRPCAddr       *string  `json:"grpc_addr,omitempty"` // "" disables the gRPC listener
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// Reference animation source: a CSV path, or an animation in the sqlite store
	ReferencePath *string `json:"reference_path,omitempty"`
	ReferenceDB   *string `json:"reference_db,omitempty"`
	AnimationName *string `json:"animation_name,omitempty"`

	// Playback
	SmoothingWindow *int    `json:"smoothing_window,omitempty"`
	FrameInterval   *string `json:"frame_interval,omitempty"` // duration string like "33ms"
	MinSleep        *string `json:"min_sleep,omitempty"`
	SendQueue       *int    `json:"send_queue,omitempty"`
	MaxSessions     *int    `json:"max_sessions,omitempty"` // 0 is unlimited
	RoundPoints     *bool   `json:"round_points,omitempty"`

	// Alignment cache policy
	ResetOnLive     *bool `json:"reset_on_live,omitempty"`
	ResetOnStop     *bool `json:"reset_on_stop,omitempty"`
	ResetOnPlayback *bool `json:"reset_on_playback,omitempty"`

	// Face-mesh sidecar
	DetectorURL     *string `json:"detector_url,omitempty"`
	DetectorTimeout *string `json:"detector_timeout,omitempty"`

	// Logging
	LogLevel *string `json:"log_level,omitempty"`
	LogJSON  *bool   `json:"log_json,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// DefaultServerConfig returns a config with every field set to its default.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      ptrString(":8000"),
		GRPCAddr:        ptrString(":50051"),
		AllowedOrigins:  []string{"*"},
		ReferencePath:   ptrString(""),
		ReferenceDB:     ptrString(""),
		AnimationName:   ptrString(""),
		SmoothingWindow: ptrInt(2),
		FrameInterval:   ptrString("33ms"),
		MinSleep:        ptrString("1ms"),
		SendQueue:       ptrInt(32),
		MaxSessions:     ptrInt(0),
		RoundPoints:     ptrBool(true),
		ResetOnLive:     ptrBool(true),
		ResetOnStop:     ptrBool(false),
		ResetOnPlayback: ptrBool(false),
		DetectorURL:     ptrString(""),
		DetectorTimeout: ptrString("2s"),
		LogLevel:        ptrString("info"),
		LogJSON:         ptrBool(false),
	}
}

// LoadServerConfig loads a ServerConfig from a JSON file. The path must end
// in .json and the file must be under 1MB.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ServerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are usable.
func (c *ServerConfig) Validate() error {
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", *c.SmoothingWindow)
	}
	if c.SendQueue != nil && *c.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1, got %d", *c.SendQueue)
	}
	if c.MaxSessions != nil && *c.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must be non-negative, got %d", *c.MaxSessions)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"frame_interval", c.FrameInterval},
		{"min_sleep", c.MinSleep},
		{"detector_timeout", c.DetectorTimeout},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.LogLevel != nil && *c.LogLevel != "" {
		switch strings.ToLower(*c.LogLevel) {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", *c.LogLevel)
		}
	}
	if c.ReferencePath != nil && *c.ReferencePath != "" && c.ReferenceDB != nil && *c.ReferenceDB != "" {
		return fmt.Errorf("reference_path and reference_db are mutually exclusive")
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetListenAddr returns the HTTP listen address.
func (c *ServerConfig) GetListenAddr() string { return stringOr(c.ListenAddr, ":8000") }

// GetGRPCAddr returns the gRPC listen address; empty disables gRPC.
func (c *ServerConfig) GetGRPCAddr() string { return stringOr(c.GRPCAddr, ":50051") }

// GetAllowedOrigins returns the websocket origin allow list.
func (c *ServerConfig) GetAllowedOrigins() []string {
	if len(c.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return c.AllowedOrigins
}

func (c *ServerConfig) GetReferencePath() string { return stringOr(c.ReferencePath, "") }
func (c *ServerConfig) GetReferenceDB() string   { return stringOr(c.ReferenceDB, "") }

// GetAnimationName returns the animation to serve. For CSV sources an empty
// name means the file's base name.
func (c *ServerConfig) GetAnimationName() string { return stringOr(c.AnimationName, "") }

// GetSmoothingWindow returns the moving-average window size.
func (c *ServerConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 2
	}
	return *c.SmoothingWindow
}

// GetFrameInterval returns the target playback frame interval.
func (c *ServerConfig) GetFrameInterval() time.Duration {
	return durationOr(c.FrameInterval, 33*time.Millisecond)
}

// GetMinSleep returns the minimum pause between playback frames.
func (c *ServerConfig) GetMinSleep() time.Duration {
	return durationOr(c.MinSleep, time.Millisecond)
}

// GetSendQueue returns the per-session outbound queue length.
func (c *ServerConfig) GetSendQueue() int {
	if c.SendQueue == nil {
		return 32
	}
	return *c.SendQueue
}

// GetMaxSessions returns the session cap, 0 for unlimited.
func (c *ServerConfig) GetMaxSessions() int {
	if c.MaxSessions == nil {
		return 0
	}
	return *c.MaxSessions
}

// GetRoundPoints reports whether outbound points are rounded to whole pixels.
func (c *ServerConfig) GetRoundPoints() bool {
	if c.RoundPoints == nil {
		return true
	}
	return *c.RoundPoints
}

func (c *ServerConfig) GetResetOnLive() bool {
	if c.ResetOnLive == nil {
		return true
	}
	return *c.ResetOnLive
}

func (c *ServerConfig) GetResetOnStop() bool {
	if c.ResetOnStop == nil {
		return false
	}
	return *c.ResetOnStop
}

func (c *ServerConfig) GetResetOnPlayback() bool {
	if c.ResetOnPlayback == nil {
		return false
	}
	return *c.ResetOnPlayback
}

// GetDetectorURL returns the face-mesh sidecar endpoint. Empty selects the
// static development detector.
func (c *ServerConfig) GetDetectorURL() string { return stringOr(c.DetectorURL, "") }

// GetDetectorTimeout returns the per-request sidecar timeout.
func (c *ServerConfig) GetDetectorTimeout() time.Duration {
	return durationOr(c.DetectorTimeout, 2*time.Second)
}

func (c *ServerConfig) GetLogLevel() string { return stringOr(c.LogLevel, "info") }

func (c *ServerConfig) GetLogJSON() bool {
	if c.LogJSON == nil {
		return false
	}
	return *c.LogJSON
}
