package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bugflow/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultBugPrefix is used for bug IDs when no prefix is configured.
const DefaultBugPrefix = "BUG"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db     *sql.DB
	prefix string
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithBugPrefix sets the prefix of allocated bug IDs ("BUG" gives BUG-1, BUG-2, ...).
func WithBugPrefix(prefix string) Option {
	return func(s *SQLiteStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = strings.ToUpper(p)
		}
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes every transaction in this process.
	// Other processes on the same file are held off by the write lock
	// each transaction takes at BEGIN.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, prefix: DefaultBugPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dsn applies the connection settings to every connection the driver opens.
// _txlock=immediate makes BEGIN take the write lock, so a second writer
// waits out busy_timeout instead of failing when it upgrades a read.
func dsn(dbPath string) string {
	return dbPath + "?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Bugs ---

const bugColumns = `id, seq, title, description, application, assigned_team, priority, status,
	status_last_updated, created_at, reported_by, developer, tester, developer_hours, tester_hours, reopened`

// CreateBug allocates the next sequence number and ID for b and inserts it.
func (s *SQLiteStore) CreateBug(ctx context.Context, b *models.Bug) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.AssignedTeam == "" {
		b.AssignedTeam = models.TeamUnassigned
	}
	if b.Status == "" {
		b.Status = models.StatusOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM bugs").Scan(&seq); err != nil {
		return fmt.Errorf("allocate bug id: %w", err)
	}
	b.Seq = seq
	b.ID = s.prefix + "-" + strconv.FormatInt(seq, 10)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bugs (`+bugColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Seq, b.Title, b.Description, b.Application, b.AssignedTeam,
		string(b.Priority), string(b.Status), b.StatusLastUpdated, b.CreatedAt, b.ReportedBy,
		b.AssignedTo.Developer, b.AssignedTo.Tester, b.DeveloperResolutionHours, b.TesterValidationHours,
		boolToInt(b.Reopened),
	)
	if err != nil {
		return fmt.Errorf("create bug: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetBug loads a bug with its requests.
func (s *SQLiteStore) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	return getBug(ctx, s.db, id)
}

func getBug(ctx context.Context, q querier, id string) (*models.Bug, error) {
	b, err := scanBug(q.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id = ?`, normalizeID(id)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bug %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bug: %w", err)
	}
	if err := loadRequests(ctx, q, []*models.Bug{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBugs returns bugs matching filter in ID order.
func (s *SQLiteStore) ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Application != "" {
		conditions = append(conditions, "application = ?")
		args = append(args, filter.Application)
	}
	if filter.Team != "" {
		conditions = append(conditions, "assigned_team = ?")
		args = append(args, filter.Team)
	}
	if filter.Assignee != "" {
		conditions = append(conditions, "(developer = ? OR tester = ?)")
		args = append(args, filter.Assignee, filter.Assignee)
	}
	if filter.Active {
		conditions = append(conditions, "status NOT IN (?, ?)")
		args = append(args, string(models.StatusClosed), string(models.StatusDuplicate))
	}
	if filter.PendingRequests {
		conditions = append(conditions, "id IN (SELECT bug_id FROM requests WHERE status = ?)")
		args = append(args, string(models.RequestPending))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	var bugs []*models.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		bugs = append(bugs, b)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}

	// The pool has one connection, so requests are loaded after the bug
	// cursor is closed.
	if err := loadRequests(ctx, s.db, bugs); err != nil {
		return nil, err
	}
	return bugs, nil
}

// MutateBug runs fn against the current state of a bug inside a single transaction.
func (s *SQLiteStore) MutateBug(ctx context.Context, id string, fn MutateFunc) (*models.Bug, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := getBug(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	before := make(map[string]models.Request, len(b.Requests()))
	for _, r := range b.Requests() {
		before[r.ID] = *r
	}

	events, err := fn(b)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bugs SET title=?, description=?, application=?, assigned_team=?, priority=?, status=?,
			status_last_updated=?, reported_by=?, developer=?, tester=?, developer_hours=?, tester_hours=?, reopened=?
		WHERE id=?`,
		b.Title, b.Description, b.Application, b.AssignedTeam, string(b.Priority), string(b.Status),
		b.StatusLastUpdated, b.ReportedBy, b.AssignedTo.Developer, b.AssignedTo.Tester,
		b.DeveloperResolutionHours, b.TesterValidationHours, boolToInt(b.Reopened), b.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update bug: %w", err)
	}

	for _, r := range b.Requests() {
		prev, existed := before[r.ID]
		if existed && prev == *r {
			continue
		}
		if existed && prev.Status.Resolved() {
			return nil, fmt.Errorf("request %s: %w", r.ID, ErrRequestResolved)
		}
		if err := upsertRequest(ctx, tx, b.ID, r); err != nil {
			return nil, err
		}
	}

	for _, e := range events {
		if err := insertEvent(ctx, tx, b.ID, e); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row rowScanner) (*models.Bug, error) {
	b := &models.Bug{}
	var priority, status string
	var lastUpdated sql.NullTime
	var devHours, testHours sql.NullFloat64
	var reopened int

	err := row.Scan(&b.ID, &b.Seq, &b.Title, &b.Description, &b.Application, &b.AssignedTeam,
		&priority, &status, &lastUpdated, &b.CreatedAt, &b.ReportedBy,
		&b.AssignedTo.Developer, &b.AssignedTo.Tester, &devHours, &testHours, &reopened)
	if err != nil {
		return nil, err
	}

	b.Priority = models.Priority(priority)
	b.Status = models.Status(status)
	b.Reopened = reopened != 0
	if lastUpdated.Valid {
		t := lastUpdated.Time
		b.StatusLastUpdated = &t
	}
	if devHours.Valid {
		h := devHours.Float64
		b.DeveloperResolutionHours = &h
	}
	if testHours.Valid {
		h := testHours.Float64
		b.TesterValidationHours = &h
	}
	return b, nil
}

// normalizeID accepts "bug-7" for "BUG-7".
func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// --- Requests ---

func loadRequests(ctx context.Context, q querier, bugs []*models.Bug) error {
	if len(bugs) == 0 {
		return nil
	}
	byID := make(map[string]*models.Bug, len(bugs))
	placeholders := make([]string, len(bugs))
	args := make([]any, len(bugs))
	for i, b := range bugs {
		byID[b.ID] = b
		placeholders[i] = "?"
		args[i] = b.ID
	}

	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT bug_id, id, kind, role, requested_by, reason, status, requested_at, reviewed_by, reviewed_at
		FROM requests WHERE bug_id IN (%s) ORDER BY requested_at, rowid`, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		r := &models.Request{}
		var bugID, kind, role, status string
		var reviewedAt sql.NullTime
		if err := rows.Scan(&bugID, &r.ID, &kind, &role, &r.RequestedBy, &r.Reason, &status,
			&r.RequestedAt, &r.ReviewedBy, &reviewedAt); err != nil {
			return fmt.Errorf("scan request: %w", err)
		}
		r.Kind = models.RequestKind(kind)
		r.Role = models.Role(role)
		r.Status = models.RequestStatus(status)
		if reviewedAt.Valid {
			t := reviewedAt.Time
			r.ReviewedAt = &t
		}

		b := byID[bugID]
		switch r.Kind {
		case models.RequestKindReopen:
			b.ReopenRequests = append(b.ReopenRequests, r)
		default:
			b.ReallocationRequests.Append(r)
		}
	}
	return rows.Err()
}

// upsertRequest writes a new request or updates a pending one. A row that is
// already resolved is left untouched and reported as ErrRequestResolved.
func upsertRequest(ctx context.Context, tx *sql.Tx, bugID string, r *models.Request) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = models.RequestPending
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO requests (id, bug_id, kind, role, requested_by, reason, status, requested_at, reviewed_by, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, reviewed_by = excluded.reviewed_by, reviewed_at = excluded.reviewed_at
		WHERE requests.status = 'Pending'`,
		r.ID, bugID, string(r.Kind), string(r.Role), r.RequestedBy, r.Reason, string(r.Status),
		r.RequestedAt, r.ReviewedBy, r.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("request %s: %w", r.ID, ErrRequestResolved)
	}
	return nil
}

// --- Events ---

func insertEvent(ctx context.Context, tx *sql.Tx, bugID string, e *models.BugEvent) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.BugID = bugID

	_, err := tx.ExecContext(ctx,
		`INSERT INTO bug_events (id, bug_id, kind, from_status, to_status, actor, actor_role, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BugID, string(e.Kind), string(e.FromStatus), string(e.ToStatus), e.Actor, string(e.ActorRole), e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail of a bug, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, bugID string) ([]*models.BugEvent, error) {
	if _, err := s.bugExists(ctx, s.db, bugID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bug_id, kind, from_status, to_status, actor, actor_role, detail, created_at
		FROM bug_events WHERE bug_id = ? ORDER BY created_at, rowid`, normalizeID(bugID))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.BugEvent
	for rows.Next() {
		e := &models.BugEvent{}
		var kind, from, to, role string
		if err := rows.Scan(&e.ID, &e.BugID, &kind, &from, &to, &e.Actor, &role, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = models.EventKind(kind)
		e.FromStatus = models.Status(from)
		e.ToStatus = models.Status(to)
		e.ActorRole = models.Role(role)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Favorites ---

// ToggleFavorite flips userID's favorite mark on bugID and returns the new state.
func (s *SQLiteStore) ToggleFavorite(ctx context.Context, userID, bugID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := s.bugExists(ctx, tx, bugID)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM favorites WHERE user_id = ? AND bug_id = ?", userID, id)
	if err != nil {
		return false, fmt.Errorf("remove favorite: %w", err)
	}
	favorited := false
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO favorites (user_id, bug_id, created_at) VALUES (?, ?, ?)",
			userID, id, time.Now().UTC()); err != nil {
			return false, fmt.Errorf("add favorite: %w", err)
		}
		favorited = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return favorited, nil
}

// ListFavorites returns the IDs userID has favorited, in bug order.
func (s *SQLiteStore) ListFavorites(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.bug_id FROM favorites f JOIN bugs b ON b.id = f.bug_id
		WHERE f.user_id = ? ORDER BY b.seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) bugExists(ctx context.Context, q querier, bugID string) (string, error) {
	id := normalizeID(bugID)
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM bugs WHERE id = ?", id).Scan(&n); err != nil {
		return "", fmt.Errorf("lookup bug: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("bug %s: %w", bugID, ErrNotFound)
	}
	return id, nil
}
