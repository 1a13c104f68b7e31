package worklog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Issue identifies the remote issue a worklog is booked on.
type Issue struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

func (i Issue) IsZero() bool {
	return strings.TrimSpace(i.ID) == "" && strings.TrimSpace(i.Key) == ""
}

// SameAs reports whether both values refer to the same remote issue.
func (i Issue) SameAs(other Issue) bool {
	if i.ID != "" && other.ID != "" {
		return i.ID == other.ID
	}
	return strings.EqualFold(strings.TrimSpace(i.Key), strings.TrimSpace(other.Key))
}

func (i Issue) String() string {
	if i.Key != "" {
		return i.Key
	}
	return i.ID
}

// Worklog is the backend-agnostic, remote-confirmed time entry.
type Worklog struct {
	ID      string    `json:"id"`
	Issue   Issue     `json:"issue"`
	Comment string    `json:"comment"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Synced  bool      `json:"synced"`
}

func (w Worklog) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Key is the identity of a queued operation. Exactly one field is set.
type Key struct {
	TempID string
	ID     string
}

func (k Key) String() string {
	if k.TempID != "" {
		return "temp:" + k.TempID
	}
	return "id:" + k.ID
}

func (k Key) IsZero() bool {
	return k.TempID == "" && k.ID == ""
}

// ParseKey is the inverse of Key.String. A bare value is read as a remote id.
func ParseKey(value string) (Key, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return Key{}, errors.New("empty worklog key")
	case strings.HasPrefix(value, "temp:"):
		return Key{TempID: strings.TrimPrefix(value, "temp:")}, nil
	case strings.HasPrefix(value, "id:"):
		return Key{ID: strings.TrimPrefix(value, "id:")}, nil
	default:
		return Key{ID: value}, nil
	}
}

// Temporary is a queued, not yet confirmed create/update/delete operation.
// Revision counts replacements since the operation was first queued.
type Temporary struct {
	TempID      string     `json:"tempId,omitempty"`
	ID          string     `json:"id,omitempty"`
	Issue       Issue      `json:"issue"`
	OriginIssue *Issue     `json:"originIssue,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Synced      bool       `json:"synced"`
	Delete      bool       `json:"delete,omitempty"`
	SyncTabID   string     `json:"syncTabId,omitempty"`
	SyncTimeout *time.Time `json:"syncTimeout,omitempty"`
	SyncError   string     `json:"syncError,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Revision    int        `json:"revision,omitempty"`
}

func (t Temporary) Key() Key {
	if t.TempID != "" {
		return Key{TempID: t.TempID}
	}
	return Key{ID: t.ID}
}

func (t Temporary) IsCreate() bool { return t.TempID != "" }

func (t Temporary) IsUpdate() bool { return t.ID != "" && !t.Delete }

func (t Temporary) Reserved() bool { return t.SyncTabID != "" }

// ChangesIssue reports whether the operation moves an existing entry to another issue.
func (t Temporary) ChangesIssue() bool {
	return t.OriginIssue != nil && !t.OriginIssue.IsZero() && !t.OriginIssue.SameAs(t.Issue)
}

// Validate checks the identity and shape invariants of a queued operation.
func (t Temporary) Validate() error {
	hasTemp := strings.TrimSpace(t.TempID) != ""
	hasID := strings.TrimSpace(t.ID) != ""
	if hasTemp == hasID {
		return errors.New("exactly one of tempId or id must be set")
	}
	if t.Delete {
		if !hasID {
			return errors.New("delete requires a remote id")
		}
		return nil
	}
	if t.Issue.IsZero() {
		return fmt.Errorf("worklog %s has no issue", t.Key())
	}
	if t.Start.IsZero() || t.End.IsZero() {
		return fmt.Errorf("worklog %s requires start and end", t.Key())
	}
	if !t.End.After(t.Start) {
		return fmt.Errorf("worklog %s ends before it starts", t.Key())
	}
	return nil
}

// ClearReservation drops the reservation fields.
func (t *Temporary) ClearReservation() {
	t.SyncTabID = ""
	t.SyncTimeout = nil
}

func NewTempID() string {
	return uuid.NewString()
}

// FromWorklog builds an update operation for a confirmed entry.
func FromWorklog(w Worklog) Temporary {
	origin := w.Issue
	return Temporary{
		ID:          w.ID,
		Issue:       w.Issue,
		OriginIssue: &origin,
		Comment:     w.Comment,
		Start:       w.Start,
		End:         w.End,
	}
}

// Cache is the last known remote snapshot.
type Cache struct {
	ValidUntil time.Time `json:"validUntil"`
	Data       []Worklog `json:"data"`
}

// Put appends w or replaces the entry with the same id.
func (c *Cache) Put(w Worklog) {
	w.Synced = true
	for i := range c.Data {
		if c.Data[i].ID == w.ID {
			c.Data[i] = w
			return
		}
	}
	c.Data = append(c.Data, w)
}

func (c *Cache) Remove(id string) bool {
	for i := range c.Data {
		if c.Data[i].ID == id {
			c.Data = append(c.Data[:i], c.Data[i+1:]...)
			return true
		}
	}
	return false
}

func (c Cache) Find(id string) (Worklog, bool) {
	for _, w := range c.Data {
		if w.ID == id {
			return w, true
		}
	}
	return Worklog{}, false
}

// Entry is one row of the merged worklog list shown to users.
type Entry struct {
	ID        string    `json:"id,omitempty"`
	TempID    string    `json:"tempId,omitempty"`
	Issue     Issue     `json:"issue"`
	Comment   string    `json:"comment"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Synced    bool      `json:"synced"`
	Deleting  bool      `json:"deleting,omitempty"`
	SyncError string    `json:"syncError,omitempty"`
}

func (e Entry) Key() Key {
	if e.TempID != "" {
		return Key{TempID: e.TempID}
	}
	return Key{ID: e.ID}
}

func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Start.Equal(entries[j].Start) {
			return entries[i].Key().String() < entries[j].Key().String()
		}
		return entries[i].Start.Before(entries[j].Start)
	})
}
