package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ComputeEventHash hashes the JSON form of evt with event_hash and event_id
// cleared and ledgers sorted by id, so retries and ledger order do not
// change it.
func ComputeEventHash(evt *ReportEvent) string {
	evtCopy := *evt
	evtCopy.Chain.EventHash = ""
	evtCopy.EventID = ""
	evtCopy.Ledgers = append([]LedgerInfo(nil), evt.Ledgers...)
	sort.Slice(evtCopy.Ledgers, func(i, j int) bool {
		return evtCopy.Ledgers[i].LedgerID < evtCopy.Ledgers[j].LedgerID
	})

	canonical, err := json.Marshal(evtCopy)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// ChainHead is the last report event accepted for one caller.
type ChainHead struct {
	Caller    string    `json:"caller"`
	Sequence  int64     `json:"sequence"`
	EventHash string    `json:"event_hash"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportChains stores one head file per caller under <dir>/chains, so
// callers never rewrite each other's state.
type ReportChains struct {
	mu    sync.Mutex
	dir   string
	heads map[string]ChainHead
}

// OpenReportChains prepares the chain directory below dir.
func OpenReportChains(dir string) (*ReportChains, error) {
	if dir == "" {
		dir = "./notify-backup"
	}
	dir = filepath.Join(dir, "chains")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain dir: %w", err)
	}
	return &ReportChains{dir: dir, heads: make(map[string]ChainHead)}, nil
}

// Head returns the caller's current head. ok is false for a caller that
// has no accepted events yet.
func (c *ReportChains) Head(caller string) (head ChainHead, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head(caller)
}

func (c *ReportChains) head(caller string) (ChainHead, bool, error) {
	if h, ok := c.heads[caller]; ok {
		return h, true, nil
	}
	data, err := os.ReadFile(c.path(caller))
	if os.IsNotExist(err) {
		return ChainHead{}, false, nil
	}
	if err != nil {
		return ChainHead{}, false, fmt.Errorf("read chain head %s: %w", caller, err)
	}
	var h ChainHead
	if err := json.Unmarshal(data, &h); err != nil {
		return ChainHead{}, false, fmt.Errorf("decode chain head %s: %w", caller, err)
	}
	c.heads[caller] = h
	return h, true, nil
}

// Advance makes evt the caller's head. evt must already carry its chain
// hashes.
func (c *ReportChains) Advance(caller string, evt *ReportEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := ChainHead{
		Caller:    caller,
		Sequence:  evt.Chain.Sequence,
		EventHash: evt.Chain.EventHash,
		EventID:   evt.EventID,
		RunID:     evt.Run.RunID,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	path := c.path(caller)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	c.heads[caller] = h
	return nil
}

func (c *ReportChains) path(caller string) string {
	return filepath.Join(c.dir, fileSafe(caller)+".json")
}

// fileSafe maps characters outside [A-Za-z0-9_=-] to '_'.
func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '=', r == '-':
			return r
		}
		return '_'
	}, s)
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "rpt_evt_" + uuid.NewString()
}
