package eventlog

import (
	"path/filepath"
	"strconv"
	"testing"

	"custodia/core/events"
	"custodia/core/types"
)

func makeRecord(seq uint64) events.Record {
	return events.Record{
		Sequence: seq,
		Event: &types.Event{
			Type:       "listing.proposed",
			Attributes: map[string]string{"id": strconv.FormatUint(seq, 10)},
		},
	}
}

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "events"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestAppendAndResumeFromCursor(t *testing.T) {
	log := openTestLog(t)
	for seq := uint64(1); seq <= 5; seq++ {
		if err := log.Append(makeRecord(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	latest, err := log.Latest()
	if err != nil || latest != 5 {
		t.Fatalf("latest = %d err=%v, want 5", latest, err)
	}
	records, err := log.After(2, 0)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(records) != 3 || records[0].Sequence != 3 || records[2].Sequence != 5 {
		t.Fatalf("unexpected records: %+v", records)
	}
	limited, err := log.After(0, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("limited read = %+v err=%v", limited, err)
	}
}

func TestAppendRejectsEmptyRecord(t *testing.T) {
	log := openTestLog(t)
	if err := log.Append(events.Record{}); err == nil {
		t.Fatal("expected error for empty record")
	}
}

func TestFollowBackfillsAndStreams(t *testing.T) {
	log := openTestLog(t)
	outbox := events.NewOutbox()

	// Committed before the follower starts.
	outbox.Append(&types.Event{Type: "listing.proposed", Attributes: map[string]string{}})
	outbox.Append(&types.Event{Type: "listing.verified", Attributes: map[string]string{}})

	stop, err := log.Follow(outbox)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	outbox.Append(&types.Event{Type: "listing.sale_finalized", Attributes: map[string]string{}})
	stop()

	latest, err := log.Latest()
	if err != nil || latest != 3 {
		t.Fatalf("latest = %d err=%v, want 3", latest, err)
	}
	records, err := log.After(0, 0)
	if err != nil || len(records) != 3 {
		t.Fatalf("records = %+v err=%v", records, err)
	}
	if records[2].Event.Type != "listing.sale_finalized" {
		t.Fatalf("tail event = %q", records[2].Event.Type)
	}
}
