// Package mailbox talks to the file-based coordination layer that workers
// share: the registry of agent descriptors and per-agent inbox directories.
//
// Layout under the messenger directory:
//
//	registry/<name>.json          one descriptor per live agent
//	inbox/<name>/<nanos>-<id>.json one file per delivered message
package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nicobailon/pi-messenger-sub001/internal/fsutil"
)

// ErrNoInbox is returned by Deliver when the recipient has no inbox directory.
var ErrNoInbox = errors.New("recipient has no inbox")

// Descriptor is an agent's registration file.
type Descriptor struct {
	Name  string `json:"name"`
	PID   int    `json:"pid"`
	Cwd   string `json:"cwd,omitempty"`
	Model string `json:"model,omitempty"`

	// Path is the descriptor file location. Not serialized.
	Path string `json:"-"`
}

// Message is a coordination message as written to an inbox.
type Message struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	ReplyTo   *string `json:"replyTo"`
}

// Mailbox is rooted at a project's messenger directory.
type Mailbox struct {
	root string
	now  func() time.Time
}

// New returns a Mailbox rooted at dir (normally <cwd>/.pi/messenger).
func New(dir string) *Mailbox {
	return &Mailbox{root: dir, now: time.Now}
}

// Root returns the messenger directory.
func (m *Mailbox) Root() string { return m.root }

// RegistryDir returns the descriptor directory.
func (m *Mailbox) RegistryDir() string { return filepath.Join(m.root, "registry") }

// InboxDir returns the inbox directory of identity.
func (m *Mailbox) InboxDir(identity string) string {
	return filepath.Join(m.root, "inbox", identity)
}

// Descriptors reads every descriptor in the registry directory. Unreadable
// or malformed files are skipped.
func (m *Mailbox) Descriptors() ([]Descriptor, error) {
	entries, err := os.ReadDir(m.RegistryDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry dir: %w", err)
	}

	var out []Descriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.RegistryDir(), e.Name())
		d, err := readDescriptor(path)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FindByPID returns the descriptor whose pid matches.
func (m *Mailbox) FindByPID(pid int) (Descriptor, bool) {
	if pid <= 0 {
		return Descriptor{}, false
	}
	descs, err := m.Descriptors()
	if err != nil {
		return Descriptor{}, false
	}
	for _, d := range descs {
		if d.PID == pid {
			return d, true
		}
	}
	return Descriptor{}, false
}

// FindByName returns the descriptor registered under name.
func (m *Mailbox) FindByName(name string) (Descriptor, bool) {
	d, err := readDescriptor(filepath.Join(m.RegistryDir(), name+".json"))
	if err != nil {
		return Descriptor{}, false
	}
	return d, true
}

// RemoveDescriptor deletes every descriptor registered under identity.
// Nothing to remove is not an error.
func (m *Mailbox) RemoveDescriptor(identity string) error {
	descs, err := m.Descriptors()
	if err != nil {
		return err
	}
	for _, d := range descs {
		if d.Name != identity {
			continue
		}
		err := fsutil.Retry(func() error { return os.Remove(d.Path) })
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove descriptor: %w", err)
		}
	}
	return nil
}

// Deliver writes text to the inbox of to. The inbox directory must already
// exist; an agent without one is not listening.
func (m *Mailbox) Deliver(from, to, text string) (Message, error) {
	dir := m.InboxDir(to)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Message{}, fmt.Errorf("%w: %s", ErrNoInbox, to)
	}

	now := m.now()
	msg := Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d-%s.json", now.UnixNano(), msg.ID))
	if err := fsutil.WriteFile(path, data, 0o644); err != nil {
		return Message{}, fmt.Errorf("write message: %w", err)
	}
	return msg, nil
}

// Inbox returns the messages waiting for identity, oldest first.
func (m *Mailbox) Inbox(identity string) ([]Message, error) {
	dir := m.InboxDir(identity)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Message
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// EnsureInbox creates the inbox directory for identity.
func (m *Mailbox) EnsureInbox(identity string) error {
	if err := os.MkdirAll(m.InboxDir(identity), 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	return nil
}

func readDescriptor(path string) (Descriptor, error) {
	var data []byte
	err := fsutil.Retry(func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, err
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	d.Path = path
	return d, nil
}
