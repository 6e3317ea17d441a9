package testutil

import (
	devenv "codefolio-backend/dev/env"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	libtelemetry "codefolio-backend/lib/telemetry"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultNow is the instant the fake clock starts at unless ServiceParams.Now is set.
var DefaultNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
	Now    time.Time
}

// ServiceResult is everything a service under test is usually constructed with.
type ServiceResult struct {
	DB    *sql.DB
	Clock *chrono.Fake
	Tel   *telemetry.Recorder
}

// SetupService prepares telemetry, a fake clock, a recorder and optionally a
// migrated sqlite database. Everything is released through t.Cleanup.
func SetupService(t testing.TB, params ServiceParams) ServiceResult {
	t.Helper()

	cleanup := libtelemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))
	t.Cleanup(cleanup)

	now := params.Now
	if now.IsZero() {
		now = DefaultNow
	}
	res := ServiceResult{
		Clock: chrono.NewFake(now),
		Tel:   &telemetry.Recorder{},
	}
	if params.DbSchema == "" {
		return res
	}

	dbpath := ":memory:"
	if params.DbPath != "" && params.DbPath != ":memory:" {
		var err error
		dbpath, err = devenv.ResolvePath(params.DbPath)
		if err != nil {
			t.Fatal(err)
		}
	}
	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: would otherwise see its own empty database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	// the schema is written with IF NOT EXISTS so file backed dbs can be reused
	_, err = db.Exec(params.DbSchema)
	if err != nil {
		t.Fatal(err)
	}

	res.DB = db
	return res
}
