package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"custodia/core/events"
)

const cursorName = "outbox"

// Source is anything that can serve committed events after a cursor. Both the
// in-process outbox and the persistent event log satisfy it.
type Source interface {
	After(cursor uint64) []events.Record
}

// Mirror projects committed ledger events into a relational read model.
// Application is idempotent: each row remembers the sequence that last
// touched it and the cursor advances in the same transaction, so replays
// after a crash are harmless.
type Mirror struct {
	db     *gorm.DB
	source Source
	log    *slog.Logger
	batch  int
}

// Open connects to the configured database and migrates the projection
// schema.
func Open(cfg Config, source Source, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("mirror: unsupported driver %q", cfg.Database.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: open database: %w", err)
	}
	if err := db.AutoMigrate(&ListingRow{}, &MemberRow{}, &RequestRow{}, &TicketRow{}, &Cursor{}); err != nil {
		return nil, fmt.Errorf("mirror: migrate: %w", err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 256
	}
	return &Mirror{db: db, source: source, log: logger, batch: batch}, nil
}

// DB exposes the projection database for queries.
func (m *Mirror) DB() *gorm.DB { return m.db }

// Cursor reports the last applied outbox sequence.
func (m *Mirror) Cursor() (uint64, error) {
	var cur Cursor
	err := m.db.Where("name = ?", cursorName).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cur.Sequence, nil
}

// Sync applies every pending record once and returns the number applied.
func (m *Mirror) Sync() (int, error) {
	cursor, err := m.Cursor()
	if err != nil {
		return 0, err
	}
	pending := m.source.After(cursor)
	if len(pending) > m.batch {
		pending = pending[:m.batch]
	}
	applied := 0
	for _, rec := range pending {
		if rec.Sequence <= cursor {
			continue
		}
		if err := m.apply(rec); err != nil {
			return applied, fmt.Errorf("mirror: apply sequence %d: %w", rec.Sequence, err)
		}
		cursor = rec.Sequence
		applied++
	}
	return applied, nil
}

// Run polls the source until the context is cancelled.
func (m *Mirror) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := m.Sync(); err != nil {
				m.log.Warn("mirror sync failed", "error", err)
			} else if n > 0 {
				m.log.Debug("mirror applied events", "count", n)
			}
		}
	}
}

func (m *Mirror) apply(rec events.Record) error {
	if rec.Event == nil {
		return nil
	}
	return m.db.Transaction(func(tx *gorm.DB) error {
		var cur Cursor
		err := tx.Where("name = ?", cursorName).First(&cur).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if rec.Sequence <= cur.Sequence {
			return nil
		}
		if err := m.project(tx, rec); err != nil {
			return err
		}
		cur.Name = cursorName
		cur.Sequence = rec.Sequence
		return tx.Save(&cur).Error
	})
}

func (m *Mirror) project(tx *gorm.DB, rec events.Record) error {
	evt := rec.Event
	attrs := evt.Attributes
	now := time.Now().UTC()
	switch {
	case strings.HasPrefix(evt.Type, "listing."):
		id, err := parseUint(attrs["id"])
		if err != nil {
			return err
		}
		row := ListingRow{ID: id}
		tx.Where("id = ?", id).First(&row)
		row.Seller = attrs["seller"]
		if buyer, ok := attrs["buyer"]; ok {
			row.Buyer = buyer
		}
		if uri, ok := attrs["deedURI"]; ok {
			row.DeedURI = uri
		}
		row.Price = attrs["price"]
		row.EscrowAmount = attrs["escrowAmount"]
		row.Status = attrs["status"]
		row.InspectionPassed = attrs["inspectionPassed"] == "true"
		row.UpdatedSequence = rec.Sequence
		row.UpdatedAt = now
		return tx.Save(&row).Error

	case strings.HasPrefix(evt.Type, "registry."):
		parts := strings.Split(evt.Type, ".")
		if len(parts) != 3 {
			return nil
		}
		kind, action := parts[1], parts[2]
		row := MemberRow{Kind: kind, Address: attrs["member"]}
		tx.Where("kind = ? AND address = ?", kind, row.Address).First(&row)
		switch action {
		case "added":
			row.Name = attrs["name"]
			row.Profile = attrs["profile"]
			row.ProfileCID = attrs["profileCID"]
			if raw, ok := attrs["credentialId"]; ok {
				if id, err := parseUint(raw); err == nil {
					row.CredentialID = id
				}
			}
			row.Active = true
		case "removed":
			row.Active = false
		default:
			return nil
		}
		row.UpdatedSequence = rec.Sequence
		row.UpdatedAt = now
		return tx.Save(&row).Error

	case evt.Type == "access.request_created" || evt.Type == "access.request_approved":
		id, err := parseUint(attrs["id"])
		if err != nil {
			return err
		}
		row := RequestRow{ID: id}
		tx.Where("id = ?", id).First(&row)
		row.Doctor = attrs["doctor"]
		row.Patient = attrs["patient"]
		row.Status = attrs["status"]
		row.UpdatedSequence = rec.Sequence
		row.UpdatedAt = now
		return tx.Save(&row).Error

	case strings.HasPrefix(evt.Type, "access.emergency_"):
		id, err := parseUint(attrs["id"])
		if err != nil {
			return err
		}
		row := TicketRow{ID: id}
		tx.Where("id = ?", id).First(&row)
		row.Patient = attrs["patient"]
		row.Votes = parseInt(attrs["votes"])
		row.Threshold = parseInt(attrs["threshold"])
		row.DoctorCount = parseInt(attrs["doctorCount"])
		row.Approved = attrs["approved"] == "true"
		row.UpdatedSequence = rec.Sequence
		row.UpdatedAt = now
		return tx.Save(&row).Error

	default:
		// Record events stay out of the read model: only the digest is
		// public and the projection has no use for it.
		return nil
	}
}

func parseUint(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

func parseInt(raw string) int {
	v, _ := strconv.Atoi(raw)
	return v
}
