package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"stockleague/internal/quote"
	"stockleague/internal/ranking"
)

const schema = `
CREATE TABLE IF NOT EXISTS participants (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    exchange          TEXT NOT NULL,
    last_friday_price TEXT NOT NULL,
    cmp               TEXT NOT NULL,
    change            TEXT NOT NULL,
    rank              INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_participants_rank ON participants(rank);
`

// SQLite is the file-backed Store. Prices are stored as decimal strings so
// nothing ever round-trips through binary floats.
type SQLite struct {
	notifier
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the roster database at path. A
// "file:" URI is passed through untouched, which is how tests get an
// in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve roster db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create roster db directory: %w", err)
		}
		dsn = "file:" + abs + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open roster db: %w", err)
	}
	// The roster is small; one writer connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init roster schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) GetAll(ctx context.Context) ([]ranking.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, symbol, exchange, last_friday_price, cmp, change, rank
        FROM participants ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []ranking.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, id string) (ranking.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, name, symbol, exchange, last_friday_price, cmp, change, rank
        FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ranking.Participant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, err
}

func (s *SQLite) Create(ctx context.Context, p ranking.Participant) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO participants (id, name, symbol, exchange, last_friday_price, cmp, change, rank, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Symbol, string(p.Exchange),
		p.LastFridayPrice.String(), p.CMP.String(), p.Change.String(), p.Rank,
		nowUTC().Format("2006-01-02T15:04:05.000Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	s.notify()
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.notify()
	return nil
}

// BatchApply writes all ranked updates in one transaction. Only the derived
// fields move; lastFridayPrice is immutable after Create.
func (s *SQLite) BatchApply(ctx context.Context, updates []ranking.RankedUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch apply: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE participants SET cmp = ?, change = ?, rank = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare batch apply: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.CMP.String(), u.Change.String(), u.Rank, u.ID)
		if err != nil {
			return fmt.Errorf("apply update for %s: %w", u.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, u.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch apply: %w", err)
	}
	s.notify()
	return nil
}

func (s *SQLite) Subscribe(fn func()) func() { return s.subscribe(fn) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (ranking.Participant, error) {
	var p ranking.Participant
	var exchange, lastFriday, cmp, change string
	if err := row.Scan(&p.ID, &p.Name, &p.Symbol, &exchange, &lastFriday, &cmp, &change, &p.Rank); err != nil {
		return ranking.Participant{}, err
	}
	p.Exchange = quote.Exchange(exchange)
	var err error
	if p.LastFridayPrice, err = decimal.NewFromString(lastFriday); err != nil {
		return ranking.Participant{}, fmt.Errorf("corrupt last_friday_price for %s: %w", p.ID, err)
	}
	if p.CMP, err = decimal.NewFromString(cmp); err != nil {
		return ranking.Participant{}, fmt.Errorf("corrupt cmp for %s: %w", p.ID, err)
	}
	if p.Change, err = decimal.NewFromString(change); err != nil {
		return ranking.Participant{}, fmt.Errorf("corrupt change for %s: %w", p.ID, err)
	}
	return p, nil
}
