package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &ServerConfig{}

	if cfg.GetListenAddr() != ":8000" {
		t.Errorf("GetListenAddr() = %q, want :8000", cfg.GetListenAddr())
	}
	if cfg.GetGRPCAddr() != ":50051" {
		t.Errorf("GetGRPCAddr() = %q, want :50051", cfg.GetGRPCAddr())
	}
	if cfg.GetSmoothingWindow() != 2 {
		t.Errorf("GetSmoothingWindow() = %d, want 2", cfg.GetSmoothingWindow())
	}
	if cfg.GetFrameInterval() != 33*time.Millisecond {
		t.Errorf("GetFrameInterval() = %v, want 33ms", cfg.GetFrameInterval())
	}
	if cfg.GetMinSleep() != time.Millisecond {
		t.Errorf("GetMinSleep() = %v, want 1ms", cfg.GetMinSleep())
	}
	if cfg.GetSendQueue() != 32 {
		t.Errorf("GetSendQueue() = %d, want 32", cfg.GetSendQueue())
	}
	if !cfg.GetResetOnLive() || cfg.GetResetOnStop() || cfg.GetResetOnPlayback() {
		t.Error("unexpected reset policy defaults")
	}
	if !cfg.GetRoundPoints() {
		t.Error("GetRoundPoints() should default to true")
	}
	if cfg.GetDetectorTimeout() != 2*time.Second {
		t.Errorf("GetDetectorTimeout() = %v, want 2s", cfg.GetDetectorTimeout())
	}
	if got := cfg.GetAllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("GetAllowedOrigins() = %v, want [*]", got)
	}
}

func TestDefaultServerConfigMatchesGetters(t *testing.T) {
	def := DefaultServerConfig()
	empty := &ServerConfig{}

	if def.GetFrameInterval() != empty.GetFrameInterval() {
		t.Errorf("frame interval: %v vs %v", def.GetFrameInterval(), empty.GetFrameInterval())
	}
	if def.GetSendQueue() != empty.GetSendQueue() {
		t.Errorf("send queue: %d vs %d", def.GetSendQueue(), empty.GetSendQueue())
	}
	if def.GetLogLevel() != empty.GetLogLevel() {
		t.Errorf("log level: %s vs %s", def.GetLogLevel(), empty.GetLogLevel())
	}
	if err := def.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadServerConfig(t *testing.T) {
	path := writeConfig(t, "server.json", `{
  "listen_addr": "127.0.0.1:9000",
  "grpc_addr": "",
  "smoothing_window": 3,
  "frame_interval": "40ms",
  "reset_on_stop": true,
  "round_points": false
}`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetListenAddr() != "127.0.0.1:9000" {
		t.Errorf("GetListenAddr() = %q", cfg.GetListenAddr())
	}
	if cfg.GetGRPCAddr() != "" {
		t.Errorf("explicit empty grpc_addr should disable gRPC, got %q", cfg.GetGRPCAddr())
	}
	if cfg.GetSmoothingWindow() != 3 {
		t.Errorf("GetSmoothingWindow() = %d, want 3", cfg.GetSmoothingWindow())
	}
	if cfg.GetFrameInterval() != 40*time.Millisecond {
		t.Errorf("GetFrameInterval() = %v, want 40ms", cfg.GetFrameInterval())
	}
	if !cfg.GetResetOnStop() {
		t.Error("GetResetOnStop() = false, want true")
	}
	if cfg.GetRoundPoints() {
		t.Error("GetRoundPoints() = true, want false")
	}
	// omitted fields fall back
	if cfg.GetSendQueue() != 32 {
		t.Errorf("GetSendQueue() = %d, want 32", cfg.GetSendQueue())
	}
}

func TestLoadServerConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "server.yaml", `{}`, ".json extension"},
		{"bad json", "server.json", `{`, "parse"},
		{"bad duration", "server.json", `{"frame_interval":"fast"}`, "frame_interval"},
		{"negative duration", "server.json", `{"min_sleep":"-1ms"}`, "min_sleep"},
		{"zero window", "server.json", `{"smoothing_window":0}`, "smoothing_window"},
		{"zero queue", "server.json", `{"send_queue":0}`, "send_queue"},
		{"bad level", "server.json", `{"log_level":"chatty"}`, "log_level"},
		{"two sources", "server.json", `{"reference_path":"a.csv","reference_db":"a.db"}`, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadServerConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCheckedInDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("load %s: %v", DefaultConfigPath, err)
	}
	def := DefaultServerConfig()
	if cfg.GetListenAddr() != def.GetListenAddr() ||
		cfg.GetGRPCAddr() != def.GetGRPCAddr() ||
		cfg.GetFrameInterval() != def.GetFrameInterval() ||
		cfg.GetSmoothingWindow() != def.GetSmoothingWindow() ||
		cfg.GetResetOnLive() != def.GetResetOnLive() {
		t.Errorf("%s drifted from DefaultServerConfig", DefaultConfigPath)
	}
}
