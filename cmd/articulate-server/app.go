package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/articulate/internal/config"
	"github.com/banshee-data/articulate/internal/db"
	"github.com/banshee-data/articulate/internal/detector"
	"github.com/banshee-data/articulate/internal/httputil"
	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/session"
)

type options struct {
	configPath  string
	dev         bool
	showVersion bool

	// set holds the flags given explicitly; they override the config file.
	set map[string]string
}

// overridable flags map onto config fields of the same meaning.
var overridable = []struct {
	name, usage string
}{
	{"listen", "HTTP listen address (overrides listen_addr)"},
	{"grpc", "gRPC listen address, empty to disable (overrides grpc_addr)"},
	{"reference", "Reference animation CSV (overrides reference_path)"},
	{"reference-db", "Reference sqlite database (overrides reference_db)"},
	{"animation", "Animation name in the reference database (overrides animation_name)"},
	{"detector-url", "Face-mesh sidecar base URL (overrides detector_url)"},
	{"log-level", "debug, info, warn or error (overrides log_level)"},
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("articulate-server", flag.ContinueOnError)
	opts := &options{set: map[string]string{}}
	fs.StringVar(&opts.configPath, "config", "", "Path to a JSON config file (default: "+config.DefaultConfigPath+" if present)")
	fs.BoolVar(&opts.dev, "dev", false, "Use a static detector that always sees reference frame 0")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	for _, o := range overridable {
		fs.String(o.name, "", o.usage)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = f.Value.String()
	})
	return opts, nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *options) (*config.ServerConfig, error) {
	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}

	cfg := config.DefaultServerConfig()
	if path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	for name, v := range opts.set {
		v := v
		switch name {
		case "listen":
			cfg.ListenAddr = &v
		case "grpc":
			cfg.GRPCAddr = &v
		case "reference":
			cfg.ReferencePath = &v
		case "reference-db":
			cfg.ReferenceDB = &v
		case "animation":
			cfg.AnimationName = &v
		case "detector-url":
			cfg.DetectorURL = &v
		case "log-level":
			cfg.LogLevel = &v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type reference struct {
	anim  *landmarks.ReferenceAnimation
	store *db.DB // nil when loaded from CSV
}

// openReference loads the animation from the sqlite store or a CSV file.
func openReference(ctx context.Context, cfg *config.ServerConfig) (*reference, error) {
	if path := cfg.GetReferenceDB(); path != "" {
		store, err := db.NewDB(path)
		if err != nil {
			return nil, err
		}
		name := cfg.GetAnimationName()
		if name == "" {
			store.Close()
			return nil, errors.New("animation_name is required with reference_db")
		}
		anim, err := store.Load(ctx, name)
		if err != nil {
			store.Close()
			return nil, err
		}
		return &reference{anim: anim, store: store}, nil
	}

	path := cfg.GetReferencePath()
	if path == "" {
		return nil, errors.New("one of reference_path or reference_db is required")
	}
	loader := &landmarks.CSVLoader{}
	anim, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return &reference{anim: anim}, nil
}

// newDetector returns the sidecar client, or in dev mode a static detector
// that reports reference frame 0.
func newDetector(cfg *config.ServerConfig, anim *landmarks.ReferenceAnimation, dev bool) (landmarks.Detector, error) {
	if dev {
		return detector.StaticDetector{Set: anim.Frame(0).Clone()}, nil
	}
	url := cfg.GetDetectorURL()
	if url == "" {
		return nil, errors.New("detector_url is required unless -dev is set")
	}
	return detector.NewHTTPDetector(detector.Config{
		Endpoint: url,
		Timeout:  cfg.GetDetectorTimeout(),
	}, httputil.NewStandardClient(0)), nil
}

func sessionConfig(cfg *config.ServerConfig) session.Config {
	return session.Config{
		FrameInterval:   cfg.GetFrameInterval(),
		MinSleep:        cfg.GetMinSleep(),
		SmoothingWindow: cfg.GetSmoothingWindow(),
		SendQueue:       cfg.GetSendQueue(),
		MaxSessions:     cfg.GetMaxSessions(),
		RoundPoints:     cfg.GetRoundPoints(),
		Policy: session.ResetPolicy{
			ResetOnLive:     cfg.GetResetOnLive(),
			ResetOnStop:     cfg.GetResetOnStop(),
			ResetOnPlayback: cfg.GetResetOnPlayback(),
		},
	}
}
