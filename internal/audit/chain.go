package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ChainFile appends logs to a JSONL file where every line carries the hash
// of the previous one, so truncation or edits are detectable.
type ChainFile struct {
	path string
	mu   sync.Mutex
}

// NewChainFile creates a sink writing to path.
func NewChainFile(path string) *ChainFile {
	return &ChainFile{path: path}
}

func (c *ChainFile) WriteAudit(_ context.Context, l *Log) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return appendChainedLine(c.path, l)
}

func appendChainedLine(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	entry, err := normalizePayload(payload)
	if err != nil {
		return err
	}
	prevHash, err := readLastHash(path)
	if err != nil {
		return err
	}
	if prevHash != "" {
		entry["prevHash"] = prevHash
	}
	entry["hash"] = computeHash(entry)
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func normalizePayload(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "hash")
	delete(out, "prevHash")
	return out, nil
}

func newLineScanner(f *os.File) *bufio.Scanner {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return sc
}

func readLastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var last string
	sc := newLineScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(last), &obj); err != nil {
		return "", fmt.Errorf("invalid existing audit line: %w", err)
	}
	h, _ := obj["hash"].(string)
	return strings.TrimSpace(h), nil
}

func computeHash(entry map[string]any) string {
	canonical := make(map[string]any, len(entry))
	for k, v := range entry {
		if k == "hash" {
			continue
		}
		canonical[k] = v
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChain re-hashes every line of path and checks the links. It
// returns the number of valid lines and the first break found.
func VerifyChain(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	prev := ""
	sc := newLineScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		got, _ := obj["hash"].(string)
		link, _ := obj["prevHash"].(string)
		if link != prev {
			return n, fmt.Errorf("line %d: broken link", n+1)
		}
		if computeHash(obj) != got {
			return n, fmt.Errorf("line %d: hash mismatch", n+1)
		}
		prev = got
		n++
	}
	return n, sc.Err()
}
