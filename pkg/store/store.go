// Package store persists ACL records in SQLite behind database/sql. The
// sql.DB connection pool lets concurrent handlers read and write without
// serializing at the application layer; each operation is atomic and no
// cross-operation transactions are exposed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joestubbs/tagent/pkg/acl"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no ACL exists with a requested id.
var ErrNotFound = errors.New("acl not found")

// NewAcl carries the caller-supplied fields of an insert or update. The
// store assigns id and create_time; create_by is the mutating caller's
// subject.
type NewAcl struct {
	Subject  string
	User     string
	Path     string
	Action   acl.Action
	Decision acl.Decision
}

// AclStore is the durable set of ACL records.
type AclStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// the schema migration.
func Open(path string) (*AclStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// Writers serialize inside SQLite; a small pool is enough for the two
	// queries the decision engine issues per check.
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db)
}

// New wraps an existing handle and runs the schema migration.
func New(db *sql.DB) (*AclStore, error) {
	s := &AclStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for collaborators that share the
// database file, such as the jobs runner.
func (s *AclStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying pool.
func (s *AclStore) Close() error {
	return s.db.Close()
}

func (s *AclStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS acls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			action TEXT NOT NULL,
			path TEXT NOT NULL,
			user TEXT NOT NULL,
			create_by TEXT NOT NULL,
			create_time TEXT NOT NULL,
			decision TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_acls_subject ON acls(subject);`,
		`CREATE INDEX IF NOT EXISTS idx_acls_subject_decision ON acls(subject, decision);`,
		`CREATE TABLE IF NOT EXISTS job_info (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			create_time TEXT NOT NULL,
			update_time TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

const aclColumns = "id, subject, action, path, user, create_by, create_time, decision"

// Insert stores a new record and returns its assigned id. The path is
// normalized to begin with "/" and create_time is set to the current UTC
// time in ISO-8601.
func (s *AclStore) Insert(ctx context.Context, n NewAcl, createBy string) (int64, error) {
	query := `INSERT INTO acls (subject, action, path, user, create_by, create_time, decision)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		n.Subject, n.Action.String(), acl.NormalizePath(n.Path), n.User,
		createBy, time.Now().UTC().Format(time.RFC3339Nano), n.Decision.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting acl: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted acl id: %w", err)
	}
	return id, nil
}

// GetByID returns the record with the given id, or ErrNotFound.
func (s *AclStore) GetByID(ctx context.Context, id int64) (*acl.Acl, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+aclColumns+` FROM acls WHERE id = ?`, id)
	a, err := scanAcl(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading acl %d: %w", id, err)
	}
	return a, nil
}

// DeleteByID removes the record with the given id and returns the number of
// rows removed.
func (s *AclStore) DeleteByID(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM acls WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting acl %d: %w", id, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return count, nil
}

// UpdateByID replaces every mutable field of the record with the given id.
// create_time is immutable; create_by is rewritten to the mutating caller's
// subject. Returns the number of rows updated.
func (s *AclStore) UpdateByID(ctx context.Context, id int64, n NewAcl, createBy string) (int64, error) {
	query := `UPDATE acls SET subject = ?, action = ?, path = ?, user = ?, decision = ?, create_by = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		n.Subject, n.Action.String(), acl.NormalizePath(n.Path), n.User,
		n.Decision.String(), createBy, id,
	)
	if err != nil {
		return 0, fmt.Errorf("updating acl %d: %w", id, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting updated rows: %w", err)
	}
	return count, nil
}

// ListAll returns every stored record.
func (s *AclStore) ListAll(ctx context.Context) ([]acl.Acl, error) {
	return s.list(ctx, `SELECT `+aclColumns+` FROM acls`)
}

// ListBySubject returns every record with an exact subject match.
func (s *AclStore) ListBySubject(ctx context.Context, subject string) ([]acl.Acl, error) {
	return s.list(ctx, `SELECT `+aclColumns+` FROM acls WHERE subject = ?`, subject)
}

// ListBySubjectAndUser returns every record matching subject and user
// exactly. The user column is compared as stored, wildcards and all.
func (s *AclStore) ListBySubjectAndUser(ctx context.Context, subject, user string) ([]acl.Acl, error) {
	return s.list(ctx, `SELECT `+aclColumns+` FROM acls WHERE subject = ? AND user = ?`, subject, user)
}

// ListBySubjectAndDecision returns every record matching subject exactly
// with the given decision. This is the query pair the decision engine
// issues per check.
func (s *AclStore) ListBySubjectAndDecision(ctx context.Context, subject string, decision acl.Decision) ([]acl.Acl, error) {
	return s.list(ctx, `SELECT `+aclColumns+` FROM acls WHERE subject = ? AND decision = ?`, subject, decision.String())
}

func (s *AclStore) list(ctx context.Context, query string, args ...any) ([]acl.Acl, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing acls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []acl.Acl
	for rows.Next() {
		a, err := scanAcl(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning acl row: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating acl rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAcl(row rowScanner) (*acl.Acl, error) {
	var (
		a           acl.Acl
		actionStr   string
		decisionStr string
	)
	err := row.Scan(&a.ID, &a.Subject, &actionStr, &a.Path, &a.User, &a.CreateBy, &a.CreateTime, &decisionStr)
	if err != nil {
		return nil, err
	}
	action, err := acl.ParseAction(actionStr)
	if err != nil {
		return nil, fmt.Errorf("acl %d has corrupt action: %w", a.ID, err)
	}
	decision, err := acl.ParseDecision(decisionStr)
	if err != nil {
		return nil, fmt.Errorf("acl %d has corrupt decision: %w", a.ID, err)
	}
	a.Action = action
	a.Decision = decision
	return &a, nil
}
