// Package wormlog is an append-only (write-once-read-many) event log with
// Merkle-tree integrity checkpointing. It adds no structure of its own:
// callers write one line per event (JSONL is the convention) and the log
// guarantees that line is flushed and fsynced before append returns, never
// rewritten.
package wormlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/filagent/htncore/herrors"
)

// Checkpoint is the sidecar document written by CreateCheckpoint.
type Checkpoint struct {
	File       string `json:"file"`
	Timestamp  string `json:"timestamp"`
	RootHash   string `json:"root_hash"`
	MerkleRoot string `json:"merkle_root"`
	NumEntries int    `json:"num_entries"`
	LineCount  int    `json:"line_count"`
}

// Finalization is the digest written by FinalizeCurrentLog.
type Finalization struct {
	ID          string `json:"id"`
	Algorithm   string `json:"algorithm"`
	SHA256      string `json:"sha256"`
	MerkleRoot  string `json:"merkle_root"`
	EntryCount  int    `json:"entry_count"`
	FinalizedAt string `json:"finalized_at"`
	Archived    string `json:"archived,omitempty"`
}

// Log is a single logical append-only stream plus its digest directory.
type Log struct {
	mu         sync.Mutex
	logDir     string
	digestDir  string
	archiveDir string
	streamName string
	logFile    string
}

// New creates (or opens) a WORM log rooted at logDir, with checkpoints
// written under digestDir and finalized archives under archiveDir.
// streamName identifies this log's JSONL file and its checkpoint/
// finalization sidecars.
func New(logDir, digestDir, archiveDir, streamName string) (*Log, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, herrors.Wrap("wormlog.New", herrors.KindIntegrityCheckFailed, streamName, err)
	}
	if err := os.MkdirAll(digestDir, 0o755); err != nil {
		return nil, herrors.Wrap("wormlog.New", herrors.KindIntegrityCheckFailed, streamName, err)
	}
	return &Log{
		logDir:     logDir,
		digestDir:  digestDir,
		archiveDir: archiveDir,
		streamName: streamName,
		logFile:    filepath.Join(logDir, streamName+".jsonl"),
	}, nil
}

// Append writes one line, terminated by newline, and fsyncs before
// returning. It never rewrites previously written bytes.
func (l *Log) Append(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return false
	}
	if err := f.Sync(); err != nil {
		return false
	}
	return true
}

func (l *Log) readLines() ([]string, error) {
	data, err := os.ReadFile(l.logFile)
	if err != nil {
		return nil, err
	}
	return splitLines(string(data)), nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// CreateCheckpoint rebuilds the Merkle tree over every line currently in
// the log and writes a checkpoint sidecar. It holds the same mutex as
// Append, so it covers exactly the appends through this Log that returned
// before it took the lock; an Append that starts during a checkpoint waits
// for it and is not included.
func (l *Log) CreateCheckpoint() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		return "", herrors.Wrap("wormlog.CreateCheckpoint", herrors.KindIntegrityCheckFailed, l.streamName, err)
	}

	root := merkleRoot(lines)
	if root == "" {
		return "", herrors.New("wormlog.CreateCheckpoint", herrors.KindIntegrityCheckFailed, "log has no entries")
	}

	cp := Checkpoint{
		File:       l.logFile,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RootHash:   root,
		MerkleRoot: root,
		NumEntries: len(lines),
		LineCount:  len(lines),
	}

	if err := l.writeCheckpoint(cp); err != nil {
		return "", herrors.Wrap("wormlog.CreateCheckpoint", herrors.KindIntegrityCheckFailed, l.streamName, err)
	}
	return root, nil
}

func (l *Log) checkpointPath() string {
	return filepath.Join(l.digestDir, l.streamName+"-checkpoint.json")
}

func (l *Log) writeCheckpoint(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.checkpointPath(), data, 0o644)
}

// VerifyIntegrity rebuilds the tree from the current file content and
// compares it to expectedHash, or to the last checkpoint's root if
// expectedHash is empty.
func (l *Log) VerifyIntegrity(expectedHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expectedHash == "" {
		data, err := os.ReadFile(l.checkpointPath())
		if err != nil {
			return false
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return false
		}
		expectedHash = cp.MerkleRoot
	}

	lines, err := l.readLines()
	if err != nil {
		return false
	}
	return merkleRoot(lines) == expectedHash
}

// FinalizeCurrentLog computes SHA-256 over the raw file bytes, writes a
// finalization digest, and — if archiveSubdir is non-empty — copies the
// file into the archive directory with write permissions revoked.
func (l *Log) FinalizeCurrentLog(archiveSubdir string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.logFile)
	if err != nil {
		return "", herrors.Wrap("wormlog.FinalizeCurrentLog", herrors.KindIntegrityCheckFailed, l.streamName, err)
	}
	lines := splitLines(string(data))

	sum := sha256.Sum256(data)
	finalID := fmt.Sprintf("%s-%d", l.streamName, time.Now().UTC().UnixNano())

	fin := Finalization{
		ID:          finalID,
		Algorithm:   "sha256",
		SHA256:      hex.EncodeToString(sum[:]),
		MerkleRoot:  merkleRoot(lines),
		EntryCount:  len(lines),
		FinalizedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if archiveSubdir != "" && l.archiveDir != "" {
		archived := filepath.Join(l.archiveDir, archiveSubdir, finalID+".jsonl")
		if err := os.MkdirAll(filepath.Dir(archived), 0o755); err != nil {
			return "", herrors.Wrap("wormlog.FinalizeCurrentLog", herrors.KindIntegrityCheckFailed, l.streamName, err)
		}
		if err := os.WriteFile(archived, data, 0o444); err != nil {
			return "", herrors.Wrap("wormlog.FinalizeCurrentLog", herrors.KindIntegrityCheckFailed, l.streamName, err)
		}
		fin.Archived = archived
	}

	finData, err := json.MarshalIndent(fin, "", "  ")
	if err != nil {
		return "", herrors.Wrap("wormlog.FinalizeCurrentLog", herrors.KindIntegrityCheckFailed, l.streamName, err)
	}
	finPath := filepath.Join(l.digestDir, finalID+"-final.json")
	if err := os.WriteFile(finPath, finData, 0o644); err != nil {
		return "", herrors.Wrap("wormlog.FinalizeCurrentLog", herrors.KindIntegrityCheckFailed, l.streamName, err)
	}

	return finalID, nil
}
