package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appdefaults "github.com/saker-ai/device-gateway/config"

	"github.com/saker-ai/device-gateway/internal/logger"
	"github.com/spf13/viper"
)

// SystemConfig represents a systemConfig.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// GatewayConfig tunes device liveness and command delivery.
type GatewayConfig struct {
	MessageQueueSize     int `mapstructure:"message_queue_size"`
	CommandTimeoutMs     int `mapstructure:"command_timeout_ms"`
	HeartbeatIntervalSec int `mapstructure:"heartbeat_interval_sec"`
	HeartbeatTimeoutSec  int `mapstructure:"heartbeat_timeout_sec"`
	PongGraceSec         int `mapstructure:"pong_grace_sec"`
	ASRFinalTimeoutMs    int `mapstructure:"asr_final_timeout_ms"`
	TTSChunkDurationMs   int `mapstructure:"tts_chunk_duration_ms"`

	DisabledCapabilities []string `mapstructure:"disabled_capabilities"`
}

// VendorConfig represents a vendorConfig.
type VendorConfig struct {
	Endpoint          string `mapstructure:"endpoint"`
	AppID             string `mapstructure:"app_id"`
	AccessToken       string `mapstructure:"access_token"`
	Resource          string `mapstructure:"resource"`
	ConnectTimeoutSec int    `mapstructure:"connect_timeout_sec"`
	AudioCodec        string `mapstructure:"audio_codec"`
	SampleRate        int    `mapstructure:"sample_rate"`
	Voice             string `mapstructure:"voice"`
	Compress          bool   `mapstructure:"compress"`
}

// WorkflowConfig represents a workflowConfig.
type WorkflowConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// Config represents a config.
type Config struct {
	RootDir          string         `mapstructure:"-"`
	HTTPAddr         string         `mapstructure:"http_addr"`
	Gateway          GatewayConfig  `mapstructure:"gateway"`
	Vendor           VendorConfig   `mapstructure:"vendor"`
	Workflow         WorkflowConfig `mapstructure:"workflow"`
	TranscriptsDir   string         `mapstructure:"transcripts_dir"`
	VoiceProfilesDir string         `mapstructure:"voice_profiles_dir"`
	TLSCertPath      string         `mapstructure:"tls_cert_path"`
	TLSKeyPath       string         `mapstructure:"tls_key_path"`
	TLSDisable       bool           `mapstructure:"tls_disable"`
	SystemConfig     SystemConfig   `mapstructure:"system_config"`
	Log              logger.Config  `mapstructure:"log"`
}

// CommandTimeout executes the commandTimeout method.
func (g GatewayConfig) CommandTimeout() time.Duration {
	return time.Duration(g.CommandTimeoutMs) * time.Millisecond
}

// HeartbeatInterval executes the heartbeatInterval method.
func (g GatewayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(g.HeartbeatIntervalSec) * time.Second
}

// HeartbeatTimeout executes the heartbeatTimeout method.
func (g GatewayConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(g.HeartbeatTimeoutSec) * time.Second
}

// PongGrace executes the pongGrace method.
func (g GatewayConfig) PongGrace() time.Duration {
	return time.Duration(g.PongGraceSec) * time.Second
}

// ASRFinalTimeout executes the asrFinalTimeout method.
func (g GatewayConfig) ASRFinalTimeout() time.Duration {
	return time.Duration(g.ASRFinalTimeoutMs) * time.Millisecond
}

// ConnectTimeout executes the connectTimeout method.
func (v VendorConfig) ConnectTimeout() time.Duration {
	return time.Duration(v.ConnectTimeoutSec) * time.Second
}

// Timeout executes the timeout method.
func (w WorkflowConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSec) * time.Second
}

// Load executes the load function.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("GATEWAY_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("http_addr", "")
	v.SetDefault("gateway.message_queue_size", 100)
	v.SetDefault("gateway.command_timeout_ms", 10000)
	v.SetDefault("gateway.heartbeat_interval_sec", 30)
	v.SetDefault("gateway.heartbeat_timeout_sec", 60)
	v.SetDefault("gateway.pong_grace_sec", 90)
	v.SetDefault("gateway.asr_final_timeout_ms", 3000)
	v.SetDefault("gateway.tts_chunk_duration_ms", 300)
	v.SetDefault("vendor.connect_timeout_sec", 10)
	v.SetDefault("vendor.audio_codec", "pcm")
	v.SetDefault("vendor.sample_rate", 24000)
	v.SetDefault("vendor.compress", true)
	v.SetDefault("workflow.timeout_sec", 30)
	v.SetDefault("tls_disable", false)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "device-gateway.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix("gateway")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8102
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("GATEWAY_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.TranscriptsDir = resolvePath(cfg.RootDir, cfg.TranscriptsDir, filepath.Join("data", "transcripts"))
	cfg.VoiceProfilesDir = resolvePath(cfg.RootDir, cfg.VoiceProfilesDir, "voices")
	if cfg.TLSCertPath != "" {
		cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, "")
	}
	if cfg.TLSKeyPath != "" {
		cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, "")
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
