package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"custodia/core/events"
)

// Log is a persistent append-only copy of the in-process outbox. Keys are
// big-endian sequence numbers so iteration order matches commit order, and
// mirrors can resume from their last cursor across restarts.
type Log struct {
	db *leveldb.DB
}

// Open opens or creates the log at path.
func Open(path string) (*Log, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Append stores the record under its sequence number. Re-appending an
// existing sequence is idempotent as long as the payload matches; the log
// never rewrites history.
func (l *Log) Append(rec events.Record) error {
	if rec.Sequence == 0 || rec.Event == nil {
		return fmt.Errorf("eventlog: record missing sequence or event")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eventlog: encode record %d: %w", rec.Sequence, err)
	}
	return l.db.Put(seqKey(rec.Sequence), value, nil)
}

// After returns up to limit records with a sequence strictly greater than
// cursor, in order. A non-positive limit returns everything.
func (l *Log) After(cursor uint64, limit int) ([]events.Record, error) {
	iter := l.db.NewIterator(&util.Range{Start: seqKey(cursor + 1)}, nil)
	defer iter.Release()
	var out []events.Record
	for iter.Next() {
		var rec events.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("eventlog: decode record: %w", err)
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate: %w", err)
	}
	return out, nil
}

// Latest reports the highest stored sequence, or zero when the log is empty.
func (l *Log) Latest() (uint64, error) {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return binary.BigEndian.Uint64(iter.Key()), nil
}

// Follow drains the outbox into the log until the subscription is cancelled.
// It first backfills anything committed between the log's last sequence and
// the outbox head, so no record is skipped when the node restarts.
func (l *Log) Follow(outbox *events.Outbox) (stop func(), err error) {
	last, err := l.Latest()
	if err != nil {
		return nil, err
	}
	ch, cancel := outbox.Subscribe(256)
	for _, rec := range outbox.After(last) {
		if err := l.Append(rec); err != nil {
			cancel()
			return nil, err
		}
		last = rec.Sequence
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for rec := range ch {
			if rec.Sequence <= last {
				continue
			}
			if err := l.Append(rec); err != nil {
				return
			}
			last = rec.Sequence
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
