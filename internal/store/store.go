package store

import (
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/profile"
	configlibsql "codefolio-backend/lib/configutil/libsql"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema.sql
var Schema string

var (
	ErrNotFound = errors.New("store: not found")
	// ErrNotVerified is returned by ApplyScrape when the platform has no
	// verified record for the user at write time.
	ErrNotVerified = errors.New("store: platform not verified")
	// ErrCodeChanged is returned by ApplyScrape when the stored verification
	// code no longer matches the record being confirmed.
	ErrCodeChanged = errors.New("store: verification code changed")
)

// Recompute derives the totals of a user from all of their snapshots.
type Recompute func(userID string, snapshots []profile.Snapshot) profile.TotalStats

// Store is the persistence consumed by the verification and orchestration
// layers. Getters return ErrNotFound for missing rows.
//
// note: fault injection point
type Store interface {
	GetSnapshot(ctx context.Context, userID string, platform profile.Platform) (profile.Snapshot, error)
	UpsertSnapshot(ctx context.Context, userID string, snapshot profile.Snapshot) error
	DeleteSnapshot(ctx context.Context, userID string, platform profile.Platform) error
	ListSnapshots(ctx context.Context, userID string) ([]profile.Snapshot, error)

	GetVerification(ctx context.Context, userID string, platform profile.Platform) (profile.VerificationRecord, error)
	UpsertVerification(ctx context.Context, record profile.VerificationRecord) error
	// UpdateVerificationIfCode writes record only while the stored code equals
	// record.Code and returns ErrCodeChanged otherwise.
	UpdateVerificationIfCode(ctx context.Context, record profile.VerificationRecord) error
	DeleteVerification(ctx context.Context, userID string, platform profile.Platform) error
	ListVerified(ctx context.Context) ([]profile.VerificationRecord, error)

	GetTotalStats(ctx context.Context, userID string) (profile.TotalStats, error)
	UpsertTotalStats(ctx context.Context, stats profile.TotalStats) error

	// ApplyScrape writes a snapshot, the verification record that produced it
	// (if any) and the recomputed totals in a single transaction.
	//
	// With a nil record the platform must already be verified, otherwise
	// ErrNotVerified is returned. With a record the stored code must still
	// equal record.Code, otherwise ErrCodeChanged is returned. Nothing is
	// written in either case.
	ApplyScrape(ctx context.Context, userID string, snapshot profile.Snapshot, record *profile.VerificationRecord, recompute Recompute) (profile.TotalStats, error)
	// ApplyRemoval deletes the snapshot and verification of a platform and
	// recomputes the totals in a single transaction.
	ApplyRemoval(ctx context.Context, userID string, platform profile.Platform, recompute Recompute) (profile.TotalStats, error)
}

type SQLStore struct {
	db     *sql.DB
	qry    *Queries
	makeTx MakeTx
	clock  chrono.API
}

func NewSQLStore(db *sql.DB, clock chrono.API) *SQLStore {
	assert.NotNil(db)
	assert.NotNil(clock)
	return &SQLStore{
		db:     db,
		qry:    New(db),
		makeTx: NewMakeTx(db),
		clock:  clock,
	}
}

// Migrate creates any missing tables. Statements are sent one at a time since
// remote libsql does not accept batches through database/sql.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Open connects to the configured database and migrates it.
func Open(ctx context.Context, config configlibsql.Struct, clock chrono.API) (*SQLStore, error) {
	db, err := config.OpenDB()
	if err != nil {
		return nil, err
	}
	err = Migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, clock), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) GetSnapshot(ctx context.Context, userID string, platform profile.Platform) (profile.Snapshot, error) {
	return s.qry.GetSnapshot(ctx, userID, platform)
}

func (s *SQLStore) UpsertSnapshot(ctx context.Context, userID string, snapshot profile.Snapshot) error {
	return s.qry.UpsertSnapshot(ctx, userID, snapshot)
}

func (s *SQLStore) DeleteSnapshot(ctx context.Context, userID string, platform profile.Platform) error {
	return s.qry.DeleteSnapshot(ctx, userID, platform)
}

func (s *SQLStore) ListSnapshots(ctx context.Context, userID string) ([]profile.Snapshot, error) {
	return s.qry.ListSnapshots(ctx, userID)
}

func (s *SQLStore) GetVerification(ctx context.Context, userID string, platform profile.Platform) (profile.VerificationRecord, error) {
	return s.qry.GetVerification(ctx, userID, platform)
}

func (s *SQLStore) UpsertVerification(ctx context.Context, record profile.VerificationRecord) error {
	return s.qry.UpsertVerification(ctx, record)
}

func (s *SQLStore) UpdateVerificationIfCode(ctx context.Context, record profile.VerificationRecord) error {
	return s.qry.UpdateVerificationIfCode(ctx, record)
}

func (s *SQLStore) DeleteVerification(ctx context.Context, userID string, platform profile.Platform) error {
	return s.qry.DeleteVerification(ctx, userID, platform)
}

func (s *SQLStore) ListVerified(ctx context.Context) ([]profile.VerificationRecord, error) {
	return s.qry.ListVerified(ctx)
}

func (s *SQLStore) GetTotalStats(ctx context.Context, userID string) (profile.TotalStats, error) {
	return s.qry.GetTotalStats(ctx, userID)
}

func (s *SQLStore) UpsertTotalStats(ctx context.Context, stats profile.TotalStats) error {
	return s.qry.UpsertTotalStats(ctx, stats, s.clock.Now())
}

// recomputeIn recomputes and writes the totals of a user inside tx.
func (s *SQLStore) recomputeIn(ctx context.Context, tx *Queries, userID string, recompute Recompute) (profile.TotalStats, error) {
	snapshots, err := tx.ListSnapshots(ctx, userID)
	if err != nil {
		return profile.TotalStats{}, err
	}
	stats := recompute(userID, snapshots)
	err = tx.UpsertTotalStats(ctx, stats, s.clock.Now())
	if err != nil {
		return profile.TotalStats{}, err
	}
	return stats, nil
}

func (s *SQLStore) ApplyScrape(ctx context.Context, userID string, snapshot profile.Snapshot, record *profile.VerificationRecord, recompute Recompute) (profile.TotalStats, error) {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return profile.TotalStats{}, err
	}
	defer discard()

	if record != nil {
		err = tx.UpdateVerificationIfCode(ctx, *record)
	} else {
		err = requireVerified(ctx, tx, userID, snapshot.Platform)
	}
	if err != nil {
		return profile.TotalStats{}, err
	}
	err = tx.UpsertSnapshot(ctx, userID, snapshot)
	if err != nil {
		return profile.TotalStats{}, err
	}
	stats, err := s.recomputeIn(ctx, tx, userID, recompute)
	if err != nil {
		return profile.TotalStats{}, err
	}
	return stats, commit()
}

func requireVerified(ctx context.Context, tx *Queries, userID string, platform profile.Platform) error {
	record, err := tx.GetVerification(ctx, userID, platform)
	if errors.Is(err, ErrNotFound) {
		return ErrNotVerified
	}
	if err != nil {
		return err
	}
	if !record.Verified {
		return ErrNotVerified
	}
	return nil
}

func (s *SQLStore) ApplyRemoval(ctx context.Context, userID string, platform profile.Platform, recompute Recompute) (profile.TotalStats, error) {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return profile.TotalStats{}, err
	}
	defer discard()

	err = tx.DeleteSnapshot(ctx, userID, platform)
	if err != nil {
		return profile.TotalStats{}, err
	}
	err = tx.DeleteVerification(ctx, userID, platform)
	if err != nil {
		return profile.TotalStats{}, err
	}
	stats, err := s.recomputeIn(ctx, tx, userID, recompute)
	if err != nil {
		return profile.TotalStats{}, err
	}
	return stats, commit()
}
