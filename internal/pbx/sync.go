package pbx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"leaddesk/api/internal/store"
)

const (
	syncStateName   = "pbx_cdr"
	initialLookback = 30 * 24 * time.Hour
	maxPages        = 1000
)

var ErrSyncInProgress = errors.New("pbx sync already in progress")

// Source is the PBX API as seen by the syncer.
type Source interface {
	ListCalls(ctx context.Context, since time.Time, page int) (CDRPage, error)
	FetchRecording(ctx context.Context, recordingID string) (Recording, error)
}

// Ledger persists calls and the sync watermark.
type Ledger interface {
	GetSyncState(ctx context.Context, name string) (store.SyncState, error)
	SaveSyncState(ctx context.Context, state store.SyncState) error
	MatchLeadsByPhone(ctx context.Context, suffix string) ([]store.PhoneMatch, error)
	UpsertCallLog(ctx context.Context, call store.CallLog) (stored store.CallLog, inserted bool, err error)
}

// RecordingStore keeps recording audio in object storage.
type RecordingStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

type SyncResult struct {
	Fetched          int           `json:"fetched"`
	Imported         int           `json:"imported"`
	Updated          int           `json:"updated"`
	Skipped          int           `json:"skipped"`
	Unmatched        int           `json:"unmatched"`
	RecordingsStored int           `json:"recordingsStored"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
	TouchedLeads     []string      `json:"touchedLeads"`
	// Stored holds the calls written by the run as they are now in the ledger.
	Stored []store.CallLog `json:"-"`
}

type Syncer struct {
	source     Source
	ledger     Ledger
	recordings RecordingStore
	running    atomic.Bool
	now        func() time.Time
}

// NewSyncer builds a syncer. recordings may be nil, in which case calls are
// imported without audio.
func NewSyncer(source Source, ledger Ledger, recordings RecordingStore) *Syncer {
	return &Syncer{source: source, ledger: ledger, recordings: recordings, now: time.Now}
}

// Sync imports every CDR newer than the stored watermark. Only one sync runs
// at a time; a concurrent call returns ErrSyncInProgress.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.running.Store(false)

	started := s.now()
	result := SyncResult{TouchedLeads: []string{}}

	state, err := s.ledger.GetSyncState(ctx, syncStateName)
	if err != nil {
		return result, fmt.Errorf("read sync state: %w", err)
	}
	since := started.Add(-initialLookback)
	if state.LastSyncAt != nil {
		since = *state.LastSyncAt
	}

	watermark := since
	touched := map[string]struct{}{}
	syncErr := s.pull(ctx, since, &result, &watermark, touched)

	for leadID := range touched {
		result.TouchedLeads = append(result.TouchedLeads, leadID)
	}
	sort.Strings(result.TouchedLeads)
	result.Duration = s.now().Sub(started)

	runAt := started.UTC()
	state.Name = syncStateName
	state.LastRunAt = &runAt
	state.LastFetched = result.Fetched
	state.LastStored = result.Imported + result.Updated
	if syncErr != nil {
		result.Error = syncErr.Error()
		state.LastStatus = "error"
		state.LastError = syncErr.Error()
	} else {
		state.LastStatus = "ok"
		state.LastError = ""
	}
	// Pages are not ordered by start time, so a failed run keeps its since
	// and the next run re-reads the whole window.
	if syncErr == nil && watermark.After(since) {
		w := watermark.UTC()
		state.LastSyncAt = &w
	}
	if err := s.ledger.SaveSyncState(ctx, state); err != nil {
		log.Printf("pbx: save sync state: %v", err)
	}

	log.Printf("pbx: sync fetched=%d imported=%d updated=%d skipped=%d unmatched=%d recordings=%d duration=%s err=%v",
		result.Fetched, result.Imported, result.Updated, result.Skipped, result.Unmatched, result.RecordingsStored, result.Duration, syncErr)
	return result, syncErr
}

func (s *Syncer) pull(ctx context.Context, since time.Time, result *SyncResult, watermark *time.Time, touched map[string]struct{}) error {
	page := 1
	for i := 0; i < maxPages; i++ {
		batch, err := s.source.ListCalls(ctx, since, page)
		if err != nil {
			return fmt.Errorf("list calls page %d: %w", page, err)
		}
		result.Fetched += len(batch.Data)
		for _, cdr := range batch.Data {
			if err := ctx.Err(); err != nil {
				return err
			}
			leadID, err := s.importCall(ctx, cdr, result)
			if err != nil {
				return err
			}
			if leadID != "" {
				touched[leadID] = struct{}{}
			}
			if cdr.StartedAt.After(*watermark) {
				*watermark = cdr.StartedAt
			}
		}
		if batch.NextPage == nil || *batch.NextPage <= page || len(batch.Data) == 0 {
			return nil
		}
		page = *batch.NextPage
	}
	return fmt.Errorf("list calls: more than %d pages", maxPages)
}

// importCall stores one CDR and returns the lead it was attached to.
func (s *Syncer) importCall(ctx context.Context, cdr CDR, result *SyncResult) (string, error) {
	if strings.TrimSpace(cdr.ID) == "" || cdr.StartedAt.IsZero() {
		result.Skipped++
		return "", nil
	}

	call := store.CallLog{
		PBXCallID:       cdr.ID,
		Direction:       normalizeDirection(cdr.Direction),
		FromNumber:      cdr.Caller,
		ToNumber:        cdr.Callee,
		Extension:       cdr.Extension,
		AgentName:       cdr.Agent,
		Status:          normalizeDisposition(cdr.Disposition),
		DurationSeconds: talkSeconds(cdr),
		StartedAt:       cdr.StartedAt.UTC(),
	}

	remote := cdr.Caller
	if call.Direction == "outbound" {
		remote = cdr.Callee
	}
	if suffix := PhoneSuffix(remote); suffix != "" {
		matches, err := s.ledger.MatchLeadsByPhone(ctx, suffix)
		if err != nil {
			return "", fmt.Errorf("match lead for call %s: %w", cdr.ID, err)
		}
		if len(matches) > 0 {
			call.LeadID = matches[0].LeadID
		}
	}
	if cdr.RecordingID != "" && s.recordings != nil {
		key, stored, err := s.storeRecording(ctx, cdr)
		if err != nil {
			log.Printf("pbx: recording %s of call %s: %v", cdr.RecordingID, cdr.ID, err)
		} else {
			call.RecordingKey = key
			if stored {
				result.RecordingsStored++
			}
		}
	}

	stored, inserted, err := s.ledger.UpsertCallLog(ctx, call)
	if err != nil {
		return "", fmt.Errorf("store call %s: %w", cdr.ID, err)
	}
	if inserted {
		result.Imported++
	} else {
		result.Updated++
	}
	if stored.LeadID == "" {
		result.Unmatched++
	}
	result.Stored = append(result.Stored, stored)
	return stored.LeadID, nil
}

func (s *Syncer) storeRecording(ctx context.Context, cdr CDR) (string, bool, error) {
	key := RecordingKey(cdr.ID, cdr.StartedAt)
	exists, err := s.recordings.Exists(ctx, key)
	if err != nil {
		return "", false, err
	}
	if exists {
		return key, false, nil
	}
	rec, err := s.source.FetchRecording(ctx, cdr.RecordingID)
	if err != nil {
		return "", false, err
	}
	defer rec.Body.Close()
	if err := s.recordings.Put(ctx, key, rec.Body, rec.Size, rec.ContentType); err != nil {
		return "", false, err
	}
	return key, true, nil
}

// Run syncs every interval until ctx ends. after, when set, receives every
// completed result.
func (s *Syncer) Run(ctx context.Context, interval time.Duration, after func(SyncResult)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sync(ctx)
			if errors.Is(err, ErrSyncInProgress) {
				continue
			}
			if after != nil {
				after(result)
			}
		}
	}
}

// RecordingKey places recordings by call month so buckets stay browsable.
func RecordingKey(callID string, startedAt time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, callID)
	startedAt = startedAt.UTC()
	return fmt.Sprintf("calls/%04d/%02d/%s", startedAt.Year(), int(startedAt.Month()), safe)
}

func normalizeDirection(direction string) string {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "outbound", "outgoing", "out":
		return "outbound"
	case "internal":
		return "internal"
	}
	return "inbound"
}

func normalizeDisposition(disposition string) string {
	switch strings.ToUpper(strings.TrimSpace(disposition)) {
	case "ANSWERED":
		return "answered"
	case "NO ANSWER", "NO_ANSWER", "NOANSWER":
		return "missed"
	case "BUSY":
		return "busy"
	case "FAILED", "CONGESTION":
		return "failed"
	case "":
		return "unknown"
	}
	return strings.ToLower(disposition)
}

// talkSeconds prefers billed seconds, which exclude ringing time.
func talkSeconds(cdr CDR) int {
	if cdr.BillSec > 0 {
		return cdr.BillSec
	}
	if normalizeDisposition(cdr.Disposition) == "answered" {
		return cdr.Duration
	}
	return 0
}
