package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

// failingRows yields no rows and then reports err, like a connection dropped mid-read
type failingRows struct {
	pgx.Rows
	err    error
	closed bool
}

func (r *failingRows) Next() bool { return false }
func (r *failingRows) Err() error { return r.err }
func (r *failingRows) Close() { r.closed = true }

func TestScanSales_WrapsReadError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	rows := &failingRows{err: cause}

	sales, err := scanSales(rows)
	if sales != nil {
		t.Errorf("expected no sales, got %+v", sales)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped %v, got %v", cause, err)
	}
	if !strings.HasPrefix(err.Error(), "failed to read sales") {
		t.Errorf("unexpected error message %q", err.Error())
	}
	if !rows.closed {
		t.Errorf("expected rows to be closed")
	}
}
