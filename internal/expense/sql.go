package expense

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // Register the "pgx" driver
	_ "modernc.org/sqlite"             // Register the "sqlite" driver
)

// Dialect selects the SQL database behind SQLStore
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// sqliteTimeLayout is fixed-width so created_at sorts lexically
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var expenseColumns = []string{"id", "user_id", "amount", "category", "business_name", "created_at"}

var migrations = map[Dialect][]string{
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS expenses (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			amount        NUMERIC NOT NULL CHECK (amount >= 0),
			category      TEXT NOT NULL,
			business_name TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS expenses_user_id_idx ON expenses (user_id)`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS expenses (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			amount        TEXT NOT NULL,
			category      TEXT NOT NULL,
			business_name TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS expenses_user_id_idx ON expenses (user_id)`,
	},
}

// SQLStore implements Store on database/sql. Postgres is reached through the
// pgx stdlib driver and SQLite through modernc.org/sqlite.
type SQLStore struct {
	db          *sql.DB
	dialect     Dialect
	builder     sq.StatementBuilderType
	idGenerator IDGenerator
	timeSource  TimeSource
}

// OpenSQLStore connects to the database and creates the expenses table
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", dialect, err)
	}

	store := NewSQLStoreWithDeps(db, dialect, &uuidGenerator{}, &defaultTimeSource{})
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreWithDeps wraps an open database with custom dependencies for testing
func NewSQLStoreWithDeps(db *sql.DB, dialect Dialect, idGen IDGenerator, timeSrc TimeSource) *SQLStore {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &SQLStore{
		db:          db,
		dialect:     dialect,
		builder:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Migrate creates the expenses table and its index
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations[s.dialect] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating %s database: %w", s.dialect, err)
		}
	}
	return nil
}

// Insert saves a new expense
func (s *SQLStore) Insert(ctx context.Context, expense *Expense) error {
	id := s.idGenerator.Generate()
	createdAt := s.timeSource.Now()

	query, args, err := s.builder.
		Insert("expenses").
		Columns(expenseColumns...).
		Values(id, expense.UserID, expense.Amount, string(expense.Category), expense.BusinessName, s.timeValue(createdAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}

	expense.ID = id
	expense.CreatedAt = createdAt
	return nil
}

// SelectByUser returns all expenses owned by a user, oldest first
func (s *SQLStore) SelectByUser(ctx context.Context, userID string) ([]*Expense, error) {
	query, args, err := s.builder.
		Select(expenseColumns...).
		From("expenses").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*Expense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expenses: %w", err)
	}
	return expenses, nil
}

// UpdateByID replaces amount, category and business name of an existing expense
func (s *SQLStore) UpdateByID(ctx context.Context, expense *Expense) error {
	query, args, err := s.builder.
		Update("expenses").
		Set("amount", expense.Amount).
		Set("category", string(expense.Category)).
		Set("business_name", expense.BusinessName).
		Where(sq.Eq{"id": expense.ID}).
		Where(sq.Eq{"user_id": expense.UserID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating expense: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	query, args, err = s.builder.
		Select(expenseColumns...).
		From("expenses").
		Where(sq.Eq{"id": expense.ID}).
		Where(sq.Eq{"user_id": expense.UserID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building select: %w", err)
	}
	updated, err := scanExpense(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return err
	}
	*expense = *updated
	return nil
}

// DeleteByID removes an expense owned by a user
func (s *SQLStore) DeleteByID(ctx context.Context, userID, id string) error {
	query, args, err := s.builder.
		Delete("expenses").
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return requireAffected(res)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) timeValue(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*Expense, error) {
	var (
		expense   Expense
		category  string
		createdAt sqlTime
	)
	err := row.Scan(&expense.ID, &expense.UserID, &expense.Amount, &category, &expense.BusinessName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning expense: %w", err)
	}
	expense.Category = Category(category)
	expense.CreatedAt = createdAt.Time
	return &expense, nil
}

// sqlTime scans timestamps stored natively or as text
type sqlTime struct {
	time.Time
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("parsing timestamp %q", s)
}
