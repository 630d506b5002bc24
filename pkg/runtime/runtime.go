// Package runtime assembles the gateway from its parts and manages the
// process lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/agent"
	appconfig "github.com/saker-ai/device-gateway/internal/config"
	"github.com/saker-ai/device-gateway/internal/device"
	apphttp "github.com/saker-ai/device-gateway/internal/http"
	applogger "github.com/saker-ai/device-gateway/internal/logger"
	"github.com/saker-ai/device-gateway/internal/ws"
	"github.com/saker-ai/device-gateway/pkg/voicevendor"
)

// Server represents a server.
type Server struct {
	cfg      appconfig.Config
	logger   *zap.Logger
	server   *http.Server
	registry *device.Registry

	sweepCancel context.CancelFunc
}

// New executes the new function.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load gateway config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("gateway logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("gateway config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("vendor_endpoint", cfg.Vendor.Endpoint),
	)

	var workflow agent.Workflow
	if cfg.Workflow.WebhookURL != "" {
		workflow = agent.NewWebhook(cfg.Workflow.WebhookURL, cfg.Workflow.Timeout())
	} else {
		logger.Warn("no workflow webhook configured; recognized speech gets no replies")
	}

	registry := device.NewRegistry(device.Options{
		QueueSize:        cfg.Gateway.MessageQueueSize,
		CommandTimeout:   cfg.Gateway.CommandTimeout(),
		FinalTimeout:     cfg.Gateway.ASRFinalTimeout(),
		ChunkDurationMs:  cfg.Gateway.TTSChunkDurationMs,
		VendorCodec:      cfg.Vendor.AudioCodec,
		VendorSampleRate: cfg.Vendor.SampleRate,
		SynthesisVoice:   cfg.Vendor.Voice,
		TranscriptDir:    cfg.TranscriptsDir,

		DisabledCapabilities: cfg.Gateway.DisabledCapabilities,
		Workflow:         workflow,
		Clients:          vendorClientFactory(cfg.Vendor, logger),
		Logger:           logger,
	})

	monitor := device.NewHeartbeatMonitor(
		cfg.Gateway.HeartbeatInterval(),
		cfg.Gateway.HeartbeatTimeout(),
		cfg.Gateway.PongGrace(),
		logger,
	)
	wsHandler := ws.NewHandler(logger, registry, monitor)
	router := apphttp.NewRouter(cfg, wsHandler, registry, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		server:   httpServer,
		registry: registry,
	}, nil
}

func vendorClientFactory(cfg appconfig.VendorConfig, logger *zap.Logger) device.ClientFactory {
	if cfg.Endpoint == "" {
		return nil
	}
	return func(deviceID string, capability string, callbacks voicevendor.Callbacks) device.VendorClient {
		return voicevendor.NewClient(voicevendor.Config{
			Endpoint:       cfg.Endpoint,
			AppID:          cfg.AppID,
			AccessToken:    cfg.AccessToken,
			Resource:       cfg.Resource,
			ConnectTimeout: cfg.ConnectTimeout(),
			Compress:       cfg.Compress,
		}, callbacks, logger.With(
			zap.String("device_id", deviceID),
			zap.String("capability", capability),
		))
	}
}

// Run executes the run method.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go s.registry.Run(sweepCtx)

	err := listen(s.server, s.cfg, s.logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr executes the addr method.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown executes the shutdown method.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	s.registry.Close()
	return ignoreServerClosed(s.server.Shutdown(ctx))
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func listen(server *http.Server, cfg appconfig.Config, logger *zap.Logger) error {
	if cfg.TLSDisable {
		if logger != nil {
			logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		}
		return server.ListenAndServe()
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	if fileExists(certPath) && fileExists(keyPath) {
		if logger != nil {
			logger.Info("starting https server", zap.String("addr", cfg.HTTPAddr))
		}
		return server.ListenAndServeTLS(certPath, keyPath)
	}

	if logger != nil {
		logger.Info("tls certs not found; starting http server", zap.String("addr", cfg.HTTPAddr))
	}
	return server.ListenAndServe()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
