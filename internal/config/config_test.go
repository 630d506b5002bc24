package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte("system_config:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("http_addr=%q, want :9000", cfg.HTTPAddr)
	}
	if cfg.Gateway.MessageQueueSize != 100 {
		t.Fatalf("message_queue_size=%d, want 100", cfg.Gateway.MessageQueueSize)
	}
	if got := cfg.Gateway.CommandTimeout(); got != 10*time.Second {
		t.Fatalf("command_timeout=%v, want 10s", got)
	}
	if got := cfg.Gateway.ASRFinalTimeout(); got != 3*time.Second {
		t.Fatalf("asr_final_timeout=%v, want 3s", got)
	}
	if cfg.Vendor.SampleRate != 24000 {
		t.Fatalf("vendor sample_rate=%d, want 24000", cfg.Vendor.SampleRate)
	}
	if cfg.TranscriptsDir != filepath.Join(dir, "data", "transcripts") {
		t.Fatalf("transcripts_dir=%q", cfg.TranscriptsDir)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	conf := "http_addr: \"127.0.0.1:8200\"\n" +
		"gateway:\n" +
		"  heartbeat_timeout_sec: 120\n" +
		"vendor:\n" +
		"  endpoint: wss://vendor.example/api\n" +
		"  voice: warm_female\n"
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8200" {
		t.Fatalf("http_addr=%q", cfg.HTTPAddr)
	}
	if got := cfg.Gateway.HeartbeatTimeout(); got != 2*time.Minute {
		t.Fatalf("heartbeat_timeout=%v, want 2m", got)
	}
	if cfg.Vendor.Endpoint != "wss://vendor.example/api" {
		t.Fatalf("endpoint=%q", cfg.Vendor.Endpoint)
	}
	if cfg.Vendor.Voice != "warm_female" {
		t.Fatalf("voice=%q", cfg.Vendor.Voice)
	}
}

func TestScanVoiceProfiles(t *testing.T) {
	dir := t.TempDir()
	good := "name: Warm Female\nvoice: zh_female_warm\nlanguage: zh\n"
	if err := os.WriteFile(filepath.Join(dir, "warm.yaml"), []byte(good), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "noise.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatalf("write noise: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "unnamed.yaml"), []byte("voice: v2\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	profiles := ScanVoiceProfiles(dir)
	if len(profiles) != 2 {
		t.Fatalf("profiles=%d, want 2", len(profiles))
	}
	byFile := map[string]VoiceProfile{}
	for _, p := range profiles {
		byFile[p.Filename] = p
	}
	if byFile["warm.yaml"].Name != "Warm Female" || byFile["warm.yaml"].Voice != "zh_female_warm" {
		t.Fatalf("warm profile=%+v", byFile["warm.yaml"])
	}
	if byFile["unnamed.yaml"].Name != "unnamed" {
		t.Fatalf("fallback name=%q, want unnamed", byFile["unnamed.yaml"].Name)
	}

	if got := ScanVoiceProfiles(filepath.Join(dir, "missing")); len(got) != 0 {
		t.Fatalf("missing dir profiles=%d, want 0", len(got))
	}
}
