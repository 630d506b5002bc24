package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TranscriptEntry represents a transcriptEntry.
type TranscriptEntry struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TranscriptInfo represents a transcriptInfo.
type TranscriptInfo struct {
	UID         string          `json:"uid"`
	LatestEntry TranscriptEntry `json:"latest_entry"`
	Timestamp   string          `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// CreateTranscript executes the createTranscript function.
func CreateTranscript(baseDir string, deviceID string) (string, error) {
	if deviceID == "" {
		return "", errors.New("device_id is empty")
	}
	dir, err := ensureDeviceDir(baseDir, deviceID)
	if err != nil {
		return "", err
	}
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(dir, uid+".json")
	meta := []TranscriptEntry{{Role: "metadata", Timestamp: time.Now().Format(time.RFC3339)}}
	if err := writeTranscript(path, meta); err != nil {
		return "", err
	}
	return uid, nil
}

// AppendTranscript executes the appendTranscript function.
func AppendTranscript(baseDir string, deviceID string, transcriptUID string, entry TranscriptEntry) error {
	path, err := transcriptPath(baseDir, deviceID, transcriptUID)
	if err != nil {
		return err
	}
	entries, err := readTranscript(path)
	if err != nil {
		return err
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(time.RFC3339)
	}
	entries = append(entries, entry)
	return writeTranscript(path, entries)
}

// GetTranscript executes the getTranscript function.
func GetTranscript(baseDir string, deviceID string, transcriptUID string) ([]TranscriptEntry, error) {
	path, err := transcriptPath(baseDir, deviceID, transcriptUID)
	if err != nil {
		return nil, err
	}
	entries, err := readTranscript(path)
	if err != nil {
		return nil, err
	}
	filtered := []TranscriptEntry{}
	for _, entry := range entries {
		if entry.Role == "metadata" {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered, nil
}

// DeleteTranscript executes the deleteTranscript function.
func DeleteTranscript(baseDir string, deviceID string, transcriptUID string) bool {
	path, err := transcriptPath(baseDir, deviceID, transcriptUID)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

// GetTranscriptList executes the getTranscriptList function.
func GetTranscriptList(baseDir string, deviceID string) []TranscriptInfo {
	list := []TranscriptInfo{}
	dir, err := ensureDeviceDir(baseDir, deviceID)
	if err != nil {
		return list
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		transcriptUID := strings.TrimSuffix(entry.Name(), ".json")
		messages, err := readTranscript(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var latest *TranscriptEntry
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "metadata" {
				continue
			}
			msg := messages[i]
			latest = &msg
			break
		}
		if latest == nil {
			continue
		}
		list = append(list, TranscriptInfo{
			UID:         transcriptUID,
			LatestEntry: *latest,
			Timestamp:   latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})

	return list
}

func ensureDeviceDir(baseDir string, deviceID string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(deviceID) {
		return "", errors.New("invalid device_id")
	}
	path := filepath.Join(baseDir, deviceID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func transcriptPath(baseDir string, deviceID string, transcriptUID string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(deviceID) || !safeNamePattern.MatchString(transcriptUID) {
		return "", errors.New("invalid transcript path")
	}
	return filepath.Join(baseDir, deviceID, transcriptUID+".json"), nil
}

func readTranscript(path string) ([]TranscriptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []TranscriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeTranscript(path string, entries []TranscriptEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
