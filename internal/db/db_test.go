package db

import (
	"context"
	"strings"
	"testing"

	"forllm/internal/domain"
)

// =============================================================================
// Connect tests
// =============================================================================

func TestConnect_WhenValidFileURL_ShouldReturnPingableDB(t *testing.T) {
	// Given: a valid in-memory libsql URL
	dbURL := "file:test.db?mode=memory&cache=shared"

	// When: connecting
	conn, err := Connect(context.Background(), dbURL)

	// Then: should succeed and answer pings
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("expected successful ping, got: %v", err)
	}
}

func TestConnect_WhenValidURL_ShouldSupportReturning(t *testing.T) {
	// Given: a connected database with a table
	conn, err := Connect(context.Background(), "file:test_returning.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Exec("CREATE TABLE IF NOT EXISTS jobs (id INTEGER PRIMARY KEY AUTOINCREMENT, status TEXT)"); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	// When: inserting with RETURNING
	var id int64
	err = conn.QueryRow("INSERT INTO jobs (status) VALUES (?) RETURNING id", "pending").Scan(&id)

	// Then: the generated id comes back
	if err != nil {
		t.Fatalf("insert returning failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("expected positive id, got %d", id)
	}
}

func TestConnect_WhenInvalidURL_ShouldReturnError(t *testing.T) {
	// Given: a file URL pointing to an impossible path
	conn, err := Connect(context.Background(), "file:/dev/null/impossible.db")

	// Then: should return an error
	if err == nil {
		conn.Close()
		t.Fatal("expected error for invalid file URL, got nil")
	}
}

func TestConnect_WhenEmptyURL_ShouldReturnError(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty URL, got nil")
	}
}

func TestConnect_WhenDriverUnknown_ShouldReturnOpenError(t *testing.T) {
	// Given: a broken driver name
	old := libsqlDriver
	libsqlDriver = "nonexistent_driver"
	defer func() { libsqlDriver = old }()

	// When: connecting
	_, err := Connect(context.Background(), "file:test.db?mode=memory&cache=shared")

	// Then: should return an error from sql.Open
	if err == nil {
		t.Fatal("expected error for unknown driver, got nil")
	}
	if !strings.Contains(err.Error(), "failed to open nonexistent_driver") {
		t.Errorf("unexpected error: %v", err)
	}
}

// =============================================================================
// Open tests
// =============================================================================

func TestOpen_WhenDriverUnsupported_ShouldReturnError(t *testing.T) {
	_, err := Open(context.Background(), domain.DatabaseConfig{Driver: "mysql", URL: "x"})
	if err == nil || !strings.Contains(err.Error(), "mysql") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestOpen_WhenPostgresUnreachable_ShouldReturnConnectError(t *testing.T) {
	// Given: a DSN for a port nothing listens on
	cfg := domain.DatabaseConfig{Driver: "postgres", URL: "postgres://u:p@127.0.0.1:1/forllm?sslmode=disable&connect_timeout=1"}

	// When: opening
	_, err := Open(context.Background(), cfg)

	// Then: the ping fails
	if err == nil || !strings.Contains(err.Error(), "failed to connect") {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestOpen_WhenDriverEmpty_ShouldUseLibSQL(t *testing.T) {
	conn, err := Open(context.Background(), domain.DatabaseConfig{URL: "file:test_default.db?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	conn.Close()
}

func TestConnect_WhenLocalFile_ShouldUseSingleConnection(t *testing.T) {
	conn, err := Connect(context.Background(), "file:single.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer conn.Close()

	if got := conn.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("expected 1 open connection, got %d", got)
	}
}
