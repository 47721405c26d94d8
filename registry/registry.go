/*
Package registry persists the location of the running broker so later invocations can find it.

The record is two lines of plain text, the broker's port and its bearer token. A record is only
ever a hint: the process it names may be gone, and callers prove liveness by connecting to it.
There is no locking between processes, so two brokers starting at the same moment can both miss
each other.
*/
package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	dirPrefix = "eng-agent"
	fileName  = "agent.port"

	unknownUser = "unknown"
)

// Record is the discoverable location and credential of a running broker.
type Record struct {
	Port  uint16
	Token string
}

type Registry struct {
	path string
}

func New(path string) *Registry {
	return &Registry{path: path}
}

// Default returns the registry at the per-user path under the platform temp dir.
func Default() *Registry {
	return New(DefaultPath())
}

// DefaultPath is <temp dir>/eng-agent-<user>/agent.port.
func DefaultPath() string {
	user := os.Getenv("USER")
	if user == "" {
		user = unknownUser
	}
	return filepath.Join(os.TempDir(), dirPrefix+"-"+user, fileName)
}

func (r *Registry) Path() string { return r.path }

// Save atomically replaces the record, creating the directory if needed.
func (r *Registry) Save(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}
	content := fmt.Sprintf("%d\n%s", rec.Port, rec.Token)
	if err := atomic.WriteFile(r.path, bytes.NewBufferString(content)); err != nil {
		return fmt.Errorf("writing runtime record: %w", err)
	}
	return nil
}

// Load returns the stored record. Missing or malformed content is reported as no record.
func (r *Registry) Load() (Record, bool) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return Record{}, false
	}
	return parse(string(b))
}

func parse(s string) (Record, bool) {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return Record{}, false
	}
	port, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 16)
	if err != nil || port == 0 {
		return Record{}, false
	}
	token := strings.TrimSpace(lines[1])
	if token == "" {
		return Record{}, false
	}
	return Record{Port: uint16(port), Token: token}, true
}

// Clear removes the record. A missing file is not an error.
func (r *Registry) Clear() error {
	err := os.Remove(r.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing runtime record: %w", err)
	}
	return nil
}

// ClearIf removes the record only if it still holds rec, so a broker shutting down does not
// delete a record written by a newer broker.
func (r *Registry) ClearIf(rec Record) error {
	cur, ok := r.Load()
	if ok && cur != rec {
		return nil
	}
	return r.Clear()
}
