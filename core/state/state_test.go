package state

import (
	"bytes"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"testing"

	"custodia/native/escrow"
	"custodia/native/registry"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestApplyCommitsStateAndEvents(t *testing.T) {
	manager := NewManager()
	seller := testAddr(0x01)

	var listingID uint64
	err := manager.Apply(func(txn *Txn) error {
		engine := escrow.NewEngine()
		engine.SetState(txn)
		engine.SetEmitter(txn)
		engine.SetParties(testAddr(0x02), testAddr(0x03))
		listing, err := engine.Propose(seller, "ipfs://deed-1", big.NewInt(1000))
		if err != nil {
			return err
		}
		listingID = listing.ID
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	err = manager.View(func(l *Ledger) error {
		if _, ok := l.ListingGet(listingID); !ok {
			t.Fatal("listing missing after commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	records := manager.Outbox().After(0)
	if len(records) != 1 || records[0].Event.Type != escrow.EventTypeListingProposed {
		t.Fatalf("unexpected outbox contents: %+v", records)
	}
}

func TestApplyRollsBackOnError(t *testing.T) {
	manager := NewManager()
	boom := errors.New("boom")

	err := manager.Apply(func(txn *Txn) error {
		engine := escrow.NewEngine()
		engine.SetState(txn)
		engine.SetEmitter(txn)
		engine.SetParties(testAddr(0x02), testAddr(0x03))
		if _, err := engine.Propose(testAddr(0x01), "ipfs://deed-1", big.NewInt(1000)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = manager.View(func(l *Ledger) error {
		if _, ok := l.ListingGet(1); ok {
			t.Fatal("listing survived rolled-back transaction")
		}
		next, _ := l.NextListingID()
		if next != 1 {
			t.Fatalf("id counter advanced to %d after rollback", next)
		}
		return nil
	})
	if got := manager.Outbox().Latest(); got != 0 {
		t.Fatalf("events leaked from rolled-back transaction: latest=%d", got)
	}
}

func TestConcurrentAppliesKeepCommitOrder(t *testing.T) {
	manager := NewManager()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := manager.Apply(func(txn *Txn) error {
				engine := escrow.NewEngine()
				engine.SetState(txn)
				engine.SetEmitter(txn)
				engine.SetParties(testAddr(0x02), testAddr(0x03))
				_, err := engine.Propose(testAddr(byte(n+1)), "ipfs://deed", big.NewInt(1000))
				return err
			})
			if err != nil {
				t.Errorf("apply %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	// Each commit assigns the next listing id and emits one event, so the
	// event at outbox sequence k must carry listing id k. Any other pairing
	// means an event reached the outbox out of commit order.
	records := manager.Outbox().After(0)
	if len(records) != workers {
		t.Fatalf("expected %d records, got %d", workers, len(records))
	}
	for _, rec := range records {
		want := strconv.FormatUint(rec.Sequence, 10)
		if got := rec.Event.Attributes["id"]; got != want {
			t.Fatalf("sequence %d carries listing id %s", rec.Sequence, got)
		}
	}
}

func TestViewSnapshotIsolation(t *testing.T) {
	manager := NewManager()
	addr := testAddr(0x01)
	if err := manager.Apply(func(txn *Txn) error {
		return txn.Credit(addr, big.NewInt(500))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_ = manager.View(func(l *Ledger) error {
		// Mutations of the snapshot must not reach committed state.
		return l.Credit(addr, big.NewInt(10_000))
	})
	_ = manager.View(func(l *Ledger) error {
		acc, err := l.GetAccount(addr[:])
		if err != nil {
			return err
		}
		if acc.Balance.Cmp(big.NewInt(500)) != 0 {
			t.Fatalf("snapshot mutation leaked: balance=%s", acc.Balance)
		}
		return nil
	})
}

func TestPauseBlocksEngineOperations(t *testing.T) {
	manager := NewManager()
	manager.SetPaused("registry", true)

	err := manager.Apply(func(txn *Txn) error {
		engine := registry.NewEngine()
		engine.SetState(txn)
		engine.SetEmitter(txn)
		engine.SetAdmin(testAddr(0xAD))
		engine.SetPauses(manager)
		_, err := engine.Add(registry.KindDoctor, testAddr(0xAD), testAddr(0x01), "Dr. Dana", "Radiology", "")
		return err
	})
	if err == nil {
		t.Fatal("expected paused module to reject the operation")
	}
	manager.SetPaused("registry", false)
	err = manager.Apply(func(txn *Txn) error {
		engine := registry.NewEngine()
		engine.SetState(txn)
		engine.SetEmitter(txn)
		engine.SetAdmin(testAddr(0xAD))
		engine.SetPauses(manager)
		_, err := engine.Add(registry.KindDoctor, testAddr(0xAD), testAddr(0x01), "Dr. Dana", "Radiology", "")
		return err
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
}
