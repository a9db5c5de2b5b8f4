// Package sequence hands out gap-free work-order numbers from SQLite.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// WorkOrderSequence is the row name work-order numbers are drawn from.
const WorkOrderSequence = "WO"

type Sequencer struct {
	db      *sqlx.DB
	name    string
	prefix  string
	padding int
}

func New(db *sqlx.DB, name, prefix string, padding int) *Sequencer {
	return &Sequencer{db: db, name: name, prefix: prefix, padding: padding}
}

// Ensure creates the sequence row if it does not exist yet.
func (s *Sequencer) Ensure(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO code_sequences (name, last_no) VALUES (?, 0)`, s.name)
	return err
}

func (s *Sequencer) NextWorkOrderNumber(ctx context.Context) (string, error) {
	return s.Next(ctx)
}

// Next increments the sequence in a transaction and returns the formatted code.
func (s *Sequencer) Next(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	code, err := NextSequenceInTx(ctx, tx, s.name, s.prefix, s.padding)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit sequence '%s': %w", s.name, err)
	}
	return code, nil
}

func NextSequenceInTx(ctx context.Context, tx *sqlx.Tx, name, prefix string, padding int) (string, error) {
	var lastNo int
	err := tx.GetContext(ctx, &lastNo, "SELECT last_no FROM code_sequences WHERE name = ?", name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("sequence '%s' not found", name)
		}
		return "", fmt.Errorf("failed to get sequence '%s': %w", name, err)
	}

	newNo := lastNo + 1
	if _, err := tx.ExecContext(ctx, `UPDATE code_sequences SET last_no = ? WHERE name = ?`, newNo, name); err != nil {
		return "", fmt.Errorf("failed to update sequence '%s': %w", name, err)
	}
	return Format(prefix, padding, newNo), nil
}

func Format(prefix string, padding, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, padding, n)
}

// Parse returns the number inside code, or false when code does not carry prefix.
func Parse(prefix, code string) (int, bool) {
	if !strings.HasPrefix(code, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(code, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reconcile raises the sequence to at least the number in latestCode, so a
// lost or restored SQLite file never hands out a number that is already used.
func (s *Sequencer) Reconcile(ctx context.Context, latestCode string) error {
	floor, ok := Parse(s.prefix, latestCode)
	if !ok {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE code_sequences SET last_no = ? WHERE name = ? AND last_no < ?`, floor, s.name, floor)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("Sequence: '%s' raised to %d", s.name, floor)
	}
	return nil
}
