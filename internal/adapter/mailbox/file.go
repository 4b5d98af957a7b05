// Package mailbox implements the append-only alert side channel on disk.
package mailbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vigil/internal/domain"
	"vigil/internal/infra/fileutil"
)

const (
	liveName    = "alerts.md"
	spoolPrefix = "alerts."
	spoolSuffix = ".sending"
)

// FileMailbox stores alerts in <dir>/alerts.md. Producers (including the
// agent itself, through its file tools) only ever append to that file.
//
// Claim renames the live file to a spool file, so writes that arrive during
// delivery land in a fresh alerts.md and are never lost or delivered twice.
// A spool survives until Ack; a failed delivery leaves it to be merged into
// the next claim.
type FileMailbox struct {
	dir string

	mu      sync.Mutex
	claimed string
}

var _ domain.Mailbox = (*FileMailbox)(nil)

// New creates a mailbox rooted at dir.
func New(dir string) (*FileMailbox, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, wrap("mailbox.open", err)
	}
	return &FileMailbox{dir: dir}, nil
}

// Path is the live file producers append to.
func (m *FileMailbox) Path() string {
	return filepath.Join(m.dir, liveName)
}

// Append writes text as one newline-terminated entry.
func (m *FileMailbox) Append(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return wrap("mailbox.append", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return wrap("mailbox.append", err)
	}
	return wrap("mailbox.append", f.Close())
}

// Claim moves all pending content aside and returns it. An empty result
// means there is nothing to deliver and nothing is held.
func (m *FileMailbox) Claim(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimed != "" {
		return "", wrap("mailbox.claim", fmt.Errorf("claim already outstanding"))
	}

	if info, err := os.Stat(m.Path()); err == nil && info.Size() > 0 {
		if err := os.Rename(m.Path(), m.newSpoolPath()); err != nil {
			return "", wrap("mailbox.claim", err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return "", wrap("mailbox.claim", err)
	}

	spools, err := m.spools()
	if err != nil {
		return "", wrap("mailbox.claim", err)
	}
	if len(spools) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, p := range spools {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", wrap("mailbox.claim", err)
		}
		b.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	content := b.String()

	target := spools[len(spools)-1]
	if len(spools) > 1 {
		// Merge earlier undelivered spools into the newest one.
		if err := fileutil.WriteAtomic(target, []byte(content)); err != nil {
			return "", wrap("mailbox.claim", err)
		}
		for _, p := range spools[:len(spools)-1] {
			os.Remove(p)
		}
	}

	text := strings.TrimRight(content, "\n")
	if strings.TrimSpace(text) == "" {
		os.Remove(target)
		return "", nil
	}
	m.claimed = target
	return text, nil
}

// Ack discards the claimed content after successful delivery.
func (m *FileMailbox) Ack(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimed == "" {
		return nil
	}
	err := os.Remove(m.claimed)
	m.claimed = ""
	if err != nil && !os.IsNotExist(err) {
		return wrap("mailbox.ack", err)
	}
	return nil
}

// Release keeps the claimed content for the next Claim.
func (m *FileMailbox) Release(_ context.Context) error {
	m.mu.Lock()
	m.claimed = ""
	m.mu.Unlock()
	return nil
}

func (m *FileMailbox) newSpoolPath() string {
	return filepath.Join(m.dir, spoolPrefix+domain.NewID(time.Now())+spoolSuffix)
}

// spools lists spool files oldest first. ULID names sort by creation time.
func (m *FileMailbox) spools() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, spoolPrefix+"*"+spoolSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.WrapOp(op, fmt.Errorf("%w: %v", domain.ErrPersistence, err))
}
