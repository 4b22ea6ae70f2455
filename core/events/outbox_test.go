package events

import (
	"testing"

	"custodia/core/types"
)

func TestOutboxOrdering(t *testing.T) {
	o := NewOutbox()
	if got := o.Latest(); got != 0 {
		t.Fatalf("expected empty outbox, latest=%d", got)
	}
	for i := 0; i < 3; i++ {
		seq := o.Append(&types.Event{Type: "listing.proposed"})
		if seq != uint64(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, seq)
		}
	}
	recs := o.After(0)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.Sequence != uint64(i+1) {
			t.Fatalf("record %d has sequence %d", i, rec.Sequence)
		}
	}
	if recs := o.After(2); len(recs) != 1 || recs[0].Sequence != 3 {
		t.Fatalf("cursor resume returned %+v", recs)
	}
	if recs := o.After(3); recs != nil {
		t.Fatalf("expected nil past the head, got %+v", recs)
	}
}

func TestOutboxSubscribe(t *testing.T) {
	o := NewOutbox()
	ch, cancel := o.Subscribe(4)
	defer cancel()

	o.Append(&types.Event{Type: "registry.doctor.added"})
	select {
	case rec := <-ch:
		if rec.Sequence != 1 || rec.Event.Type != "registry.doctor.added" {
			t.Fatalf("unexpected record %+v", rec)
		}
	default:
		t.Fatal("expected a delivered record")
	}
}

func TestOutboxIgnoresNil(t *testing.T) {
	o := NewOutbox()
	if seq := o.Append(nil); seq != 0 {
		t.Fatalf("nil append returned %d", seq)
	}
	if got := o.Latest(); got != 0 {
		t.Fatalf("latest=%d after nil append", got)
	}
}
