package store

import (
	"codefolio-backend/internal/profile"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Queries are the statements of the store, bound to either the database or a
// transaction.
type Queries struct {
	db dbtx
}

func New(db dbtx) *Queries {
	return &Queries{db: db}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const getVerification = `select
    user_id, platform, profile_url, handle, code, verified, attempts, created_at, verified_at
from verification where user_id = ? and platform = ?`

type scanner interface {
	Scan(dest ...any) error
}

func scanVerification(row scanner) (profile.VerificationRecord, error) {
	var r profile.VerificationRecord
	var platform string
	var verified int64
	var createdAt int64
	var verifiedAt sql.NullInt64
	err := row.Scan(
		&r.UserID,
		&platform,
		&r.ProfileURL,
		&r.Handle,
		&r.Code,
		&verified,
		&r.Attempts,
		&createdAt,
		&verifiedAt,
	)
	if err != nil {
		return r, err
	}
	r.Platform = profile.Platform(platform)
	r.Verified = verified != 0
	r.CreatedAt = fromMillis(createdAt)
	if verifiedAt.Valid {
		t := fromMillis(verifiedAt.Int64)
		r.VerifiedAt = &t
	}
	return r, nil
}

func (q *Queries) GetVerification(ctx context.Context, userID string, platform profile.Platform) (profile.VerificationRecord, error) {
	row := q.db.QueryRowContext(ctx, getVerification, userID, string(platform))
	r, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

const upsertVerification = `insert into verification(
    user_id, platform, profile_url, handle, code, verified, attempts, created_at, verified_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?)
on conflict (user_id, platform) do update set
    profile_url = excluded.profile_url,
    handle = excluded.handle,
    code = excluded.code,
    verified = excluded.verified,
    attempts = excluded.attempts,
    created_at = excluded.created_at,
    verified_at = excluded.verified_at`

func (q *Queries) UpsertVerification(ctx context.Context, r profile.VerificationRecord) error {
	var verifiedAt sql.NullInt64
	if r.VerifiedAt != nil {
		verifiedAt = sql.NullInt64{Int64: toMillis(*r.VerifiedAt), Valid: true}
	}
	verified := 0
	if r.Verified {
		verified = 1
	}
	_, err := q.db.ExecContext(
		ctx,
		upsertVerification,
		r.UserID,
		string(r.Platform),
		r.ProfileURL,
		r.Handle,
		r.Code,
		verified,
		r.Attempts,
		toMillis(r.CreatedAt),
		verifiedAt,
	)
	return err
}

const updateVerificationIfCode = `update verification set
    profile_url = ?,
    handle = ?,
    verified = ?,
    attempts = ?,
    verified_at = ?
where user_id = ? and platform = ? and code = ?`

// UpdateVerificationIfCode updates the record only while its stored code still
// equals r.Code and returns ErrCodeChanged otherwise, including when the row
// is gone.
func (q *Queries) UpdateVerificationIfCode(ctx context.Context, r profile.VerificationRecord) error {
	var verifiedAt sql.NullInt64
	if r.VerifiedAt != nil {
		verifiedAt = sql.NullInt64{Int64: toMillis(*r.VerifiedAt), Valid: true}
	}
	verified := 0
	if r.Verified {
		verified = 1
	}
	res, err := q.db.ExecContext(
		ctx,
		updateVerificationIfCode,
		r.ProfileURL,
		r.Handle,
		verified,
		r.Attempts,
		verifiedAt,
		r.UserID,
		string(r.Platform),
		r.Code,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCodeChanged
	}
	return nil
}

const deleteVerification = `delete from verification where user_id = ? and platform = ?`

func (q *Queries) DeleteVerification(ctx context.Context, userID string, platform profile.Platform) error {
	_, err := q.db.ExecContext(ctx, deleteVerification, userID, string(platform))
	return err
}

const listVerified = `select
    user_id, platform, profile_url, handle, code, verified, attempts, created_at, verified_at
from verification where verified = 1
order by user_id, platform`

func (q *Queries) ListVerified(ctx context.Context) ([]profile.VerificationRecord, error) {
	rows, err := q.db.QueryContext(ctx, listVerified)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile.VerificationRecord
	for rows.Next() {
		r, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const getSnapshot = `select data from snapshot where user_id = ? and platform = ?`

func (q *Queries) GetSnapshot(ctx context.Context, userID string, platform profile.Platform) (profile.Snapshot, error) {
	var data []byte
	err := q.db.QueryRowContext(ctx, getSnapshot, userID, string(platform)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return profile.Snapshot{}, err
	}
	var s profile.Snapshot
	err = json.Unmarshal(data, &s)
	return s, err
}

const upsertSnapshot = `insert into snapshot(user_id, platform, handle, data, fetched_at)
values (?, ?, ?, ?, ?)
on conflict (user_id, platform) do update set
    handle = excluded.handle,
    data = excluded.data,
    fetched_at = excluded.fetched_at`

func (q *Queries) UpsertSnapshot(ctx context.Context, userID string, s profile.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(
		ctx,
		upsertSnapshot,
		userID,
		string(s.Platform),
		s.Handle,
		string(data),
		toMillis(s.FetchedAt),
	)
	return err
}

const deleteSnapshot = `delete from snapshot where user_id = ? and platform = ?`

func (q *Queries) DeleteSnapshot(ctx context.Context, userID string, platform profile.Platform) error {
	_, err := q.db.ExecContext(ctx, deleteSnapshot, userID, string(platform))
	return err
}

const listSnapshots = `select data from snapshot where user_id = ? order by platform`

func (q *Queries) ListSnapshots(ctx context.Context, userID string) ([]profile.Snapshot, error) {
	rows, err := q.db.QueryContext(ctx, listSnapshots, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile.Snapshot
	for rows.Next() {
		var data []byte
		err := rows.Scan(&data)
		if err != nil {
			return nil, err
		}
		var s profile.Snapshot
		err = json.Unmarshal(data, &s)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const getTotalStats = `select data from total_stats where user_id = ?`

func (q *Queries) GetTotalStats(ctx context.Context, userID string) (profile.TotalStats, error) {
	var data []byte
	err := q.db.QueryRowContext(ctx, getTotalStats, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.TotalStats{}, ErrNotFound
	}
	if err != nil {
		return profile.TotalStats{}, err
	}
	var stats profile.TotalStats
	err = json.Unmarshal(data, &stats)
	return stats, err
}

const upsertTotalStats = `insert into total_stats(user_id, data, updated_at)
values (?, ?, ?)
on conflict (user_id) do update set
    data = excluded.data,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertTotalStats(ctx context.Context, stats profile.TotalStats, updatedAt time.Time) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, upsertTotalStats, stats.UserID, string(data), toMillis(updatedAt))
	return err
}
