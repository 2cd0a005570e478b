package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	// GenesisHash is HashPrev of the first event in a chain.
	GenesisHash = "sha256:genesis"

	HashPrefix = "sha256:"

	maxLineSize = 1 << 20
)

// ChainError reports where an audit log stops verifying.
type ChainError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audit chain: line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("audit chain: line %d: %s", e.Line, e.Reason)
}

func (e *ChainError) Unwrap() error { return e.Err }

// FileWriter appends hash-chained events to a JSONL file.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	lastHash string
	path     string
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter opens path for appending. An existing log is continued from
// its last hash.
func NewFileWriter(path string) (*FileWriter, error) {
	lastHash, err := lastHashOf(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &FileWriter{file: file, lastHash: lastHash, path: path}, nil
}

func lastHashOf(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	last := GenesisHash
	err = eachLine(f, func(n int, line string) error {
		var head struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal([]byte(line), &head); err != nil {
			return &ChainError{Line: n, Reason: "invalid JSON", Err: err}
		}
		if head.Hash == "" {
			return &ChainError{Line: n, Reason: "event has no hash"}
		}
		last = head.Hash
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read last hash from existing log: %w", err)
	}
	return last, nil
}

// eachLine calls fn for every non-blank line with its 1-based number.
func eachLine(r io.Reader, fn func(n int, line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Write chains, appends and fsyncs one event.
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	event.HashPrev = w.lastHash
	canonical, err := event.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = chainHash(canonical, w.lastHash)

	line, err := event.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.lastHash = event.Hash
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHash
}

func (w *FileWriter) Path() string {
	return w.path
}

// chainHash is SHA256(canonical || prevHash).
func chainHash(canonical []byte, prevHash string) string {
	h := sha256.New()
	_, _ = h.Write(canonical)
	_, _ = h.Write([]byte(prevHash))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks every event of the log at path and returns how many
// verified. A broken chain yields a *ChainError naming the first bad line.
func VerifyChain(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	prev := GenesisHash
	count := 0
	err = eachLine(f, func(n int, line string) error {
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return &ChainError{Line: n, Reason: "invalid JSON", Err: err}
		}
		if event.HashPrev != prev {
			return &ChainError{Line: n, Reason: fmt.Sprintf("hash chain broken: expected prev=%s, got prev=%s", prev, event.HashPrev)}
		}
		canonical, err := event.CanonicalJSON()
		if err != nil {
			return &ChainError{Line: n, Reason: "serialize", Err: err}
		}
		if want := chainHash(canonical, event.HashPrev); event.Hash != want {
			return &ChainError{Line: n, Reason: fmt.Sprintf("hash mismatch: expected=%s, got=%s", want, event.Hash)}
		}
		prev = event.Hash
		count++
		return nil
	})
	return count, err
}
