// SPDX-License-Identifier: Apache-2.0

// Package testutils provides the shared testcontainers harness integration
// tests use: a pair of running Postgres containers (source and
// destination), and helpers to carve out a fresh database on each for a
// single test.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// defaultPostgresVersion is used when the POSTGRES_VERSION environment
// variable is not set.
const defaultPostgresVersion = "15.3"

// sourceConnStr and destConnStr hold the connection strings to the test
// containers created in SharedTestMain.
var sourceConnStr, destConnStr string

// SharedTestMain starts a source and a destination postgres container to
// be shared by every test in a package. Each test then carves out a fresh
// database on each container with WithSourceAndDestination.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	sourceCtr, err := startContainer(ctx)
	if err != nil {
		os.Exit(1)
	}
	destCtr, err := startContainer(ctx)
	if err != nil {
		os.Exit(1)
	}

	sourceConnStr, err = sourceCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}
	destConnStr, err = destCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := sourceCtr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate source container: %v", err)
	}
	if err := destCtr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate destination container: %v", err)
	}

	os.Exit(exitCode)
}

func startContainer(ctx context.Context) (*postgres.PostgresContainer, error) {
	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	return postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
}

// TestSchema returns the schema closure tests load the catalog from. By
// default, that's "public".
func TestSchema() string {
	if s := os.Getenv("DATABASER_TEST_SCHEMA"); s != "" {
		return s
	}
	return "public"
}

// WithSourceAndDestination creates a fresh database on both the source and
// destination containers and hands fn live connections to each, closing
// both when the test ends.
func WithSourceAndDestination(t *testing.T, fn func(src, dst *sql.DB)) {
	t.Helper()

	src, _, _ := newTestDatabase(t, sourceConnStr)
	dst, _, _ := newTestDatabase(t, destConnStr)

	fn(src, dst)
}

// WithSource creates a fresh database on the source container only.
func WithSource(t *testing.T, fn func(db *sql.DB, connStr string)) {
	t.Helper()

	db, connStr, _ := newTestDatabase(t, sourceConnStr)
	fn(db, connStr)
}

// newTestDatabase creates a new database on the container reachable at
// rootConnStr and returns a connection to it, the connection string, and
// the database name.
func newTestDatabase(t *testing.T, rootConnStr string) (*sql.DB, string, string) {
	t.Helper()
	ctx := context.Background()

	rootDB, err := sql.Open("postgres", rootConnStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := rootDB.Close(); err != nil {
			t.Fatalf("failed to close root connection: %v", err)
		}
	})

	dbName := randomDBName()

	_, err = rootDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(rootConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("failed to close database connection: %v", err)
		}
	})

	return db, connStr, dbName
}
