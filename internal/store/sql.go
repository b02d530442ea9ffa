package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	// PostgreSQL driver registered as "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// defaultOpTimeout bounds every statement when SQLConfig.OpTimeout is unset.
const defaultOpTimeout = 5 * time.Second

// SQL statements. Written with "?" placeholders and rebound for PostgreSQL.
const (
	sqlGetCredential = `SELECT user_id, access_token, refresh_token, expiry, created_at, updated_at
		FROM credentials WHERE user_id = ?`

	sqlListCredentials = `SELECT user_id, access_token, refresh_token, expiry, created_at, updated_at
		FROM credentials ORDER BY user_id`

	sqlUpsertCredential = `INSERT INTO credentials
		(user_id, access_token, refresh_token, expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token,
		 expiry = excluded.expiry,
		 updated_at = excluded.updated_at`

	sqlDeleteCredential = `DELETE FROM credentials WHERE user_id = ?`

	// seq records insertion order; first_seen alone ties under a coarse clock.
	sqlUpsertMember = `INSERT INTO memberships
		(group_id, user_id, kind, first_seen, last_seen, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM memberships))
		ON CONFLICT(group_id, user_id) DO UPDATE SET
		 kind = excluded.kind,
		 last_seen = excluded.last_seen`

	sqlMembersOf = `SELECT user_id FROM memberships
		WHERE group_id = ? ORDER BY seq, first_seen, user_id`

	sqlMembers = `SELECT group_id, user_id, kind, first_seen, last_seen FROM memberships
		WHERE group_id = ? ORDER BY seq, first_seen, user_id`

	sqlGroups = `SELECT group_id, MAX(kind), COUNT(*), MAX(last_seen) FROM memberships
		GROUP BY group_id ORDER BY group_id`
)

// SQLConfig selects and tunes the durable backend.
type SQLConfig struct {
	Driver    string        // DriverSQLite or DriverPostgres
	DSN       string        // file path for SQLite, connection URL for PostgreSQL
	OpTimeout time.Duration // per-statement bound; zero uses defaultOpTimeout
}

// SQL is the durable backend. Per-key write serialisation comes from
// primary-key upserts, so concurrent writers to different users or groups
// never wait on each other beyond what the database itself imposes.
type SQL struct {
	db        *sql.DB
	driver    string
	opTimeout time.Duration
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for deterministic tests
}

var _ Backend = (*SQL)(nil)

// OpenSQL opens the database, applies pending migrations and returns a ready
// backend. For SQLite the database uses WAL mode and a single connection,
// matching SQLite's single-writer model.
func OpenSQL(ctx context.Context, cfg SQLConfig, logger *slog.Logger) (*SQL, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db, cfg.Driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	logger.Info("sql store initialized",
		slog.String("driver", cfg.Driver),
		slog.Duration("op_timeout", timeout),
	)

	return &SQL{
		db:        db,
		driver:    cfg.Driver,
		opTimeout: timeout,
		logger:    logger,
		nowFunc:   time.Now,
	}, nil
}

// openDB opens and pings the connection pool for the configured driver.
func openDB(ctx context.Context, cfg SQLConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store: empty DSN")
	}

	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case DriverSQLite:
		// DSN parameters ensure pragmas apply to every connection from the pool.
		dsn := fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
				"&_pragma=busy_timeout(5000)",
			cfg.DSN,
		)

		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: opening sqlite %s: %w", cfg.DSN, err)
		}

		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: opening postgres: %w", err)
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}

	return db, nil
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers within the op timeout.
func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}

	return nil
}

// Credential loads a user's credential. Returns (nil, nil) if none exists.
func (s *SQL) Credential(ctx context.Context, userID string) (*Credential, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, s.rebind(sqlGetCredential), userID)

	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is not an error
	}

	if err != nil {
		return nil, unavailable("getting credential", err)
	}

	return c, nil
}

// PutCredential upserts the credential. CreatedAt is kept on update.
func (s *SQL) PutCredential(ctx context.Context, c *Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := s.nowFunc().UnixNano()

	_, err := s.db.ExecContext(ctx, s.rebind(sqlUpsertCredential),
		c.UserID, c.AccessToken, c.RefreshToken, unixNano(c.Expiry), now, now,
	)
	if err != nil {
		return unavailable("putting credential", err)
	}

	return nil
}

// DeleteCredential removes a credential. Deleting an absent user is a no-op.
func (s *SQL) DeleteCredential(ctx context.Context, userID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.rebind(sqlDeleteCredential), userID); err != nil {
		return unavailable("deleting credential", err)
	}

	return nil
}

// Credentials lists all stored credentials ordered by user id.
func (s *SQL) Credentials(ctx context.Context) ([]Credential, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(sqlListCredentials))
	if err != nil {
		return nil, unavailable("listing credentials", err)
	}
	defer rows.Close()

	var out []Credential

	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, unavailable("scanning credential", err)
		}

		out = append(out, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating credentials", err)
	}

	return out, nil
}

// RecordMember upserts (groupID, userID) and bumps last_seen. first_seen and
// seq are written only on insert.
func (s *SQL) RecordMember(ctx context.Context, groupID, userID string, kind Kind) error {
	if groupID == "" || userID == "" {
		return errors.New("store: membership requires group and user id")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := s.nowFunc().UnixNano()

	_, err := s.db.ExecContext(ctx, s.rebind(sqlUpsertMember), groupID, userID, string(kind), now, now)
	if err != nil {
		return unavailable("recording member", err)
	}

	return nil
}

// MembersOf returns recorded user ids for groupID in first-seen order.
func (s *SQL) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(sqlMembersOf), groupID)
	if err != nil {
		return nil, unavailable("listing members", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scanning member", err)
		}

		out = append(out, id)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating members", err)
	}

	return out, nil
}

// Members returns full membership records for groupID in first-seen order.
func (s *SQL) Members(ctx context.Context, groupID string) ([]Membership, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(sqlMembers), groupID)
	if err != nil {
		return nil, unavailable("listing memberships", err)
	}
	defer rows.Close()

	var out []Membership

	for rows.Next() {
		var (
			m               Membership
			kind            string
			first, lastSeen int64
		)

		if err := rows.Scan(&m.GroupID, &m.UserID, &kind, &first, &lastSeen); err != nil {
			return nil, unavailable("scanning membership", err)
		}

		parsed, err := ParseKind(kind)
		if err != nil {
			return nil, err
		}

		m.Kind = parsed
		m.FirstSeen = time.Unix(0, first)
		m.LastSeen = time.Unix(0, lastSeen)
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating memberships", err)
	}

	return out, nil
}

// Groups summarises every recorded group ordered by group id.
func (s *SQL) Groups(ctx context.Context) ([]GroupSummary, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(sqlGroups))
	if err != nil {
		return nil, unavailable("listing groups", err)
	}
	defer rows.Close()

	var out []GroupSummary

	for rows.Next() {
		var (
			g        GroupSummary
			kind     string
			lastSeen int64
		)

		if err := rows.Scan(&g.GroupID, &kind, &g.Members, &lastSeen); err != nil {
			return nil, unavailable("scanning group", err)
		}

		g.Kind = Kind(kind)
		g.LastSeen = time.Unix(0, lastSeen)
		out = append(out, g)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating groups", err)
	}

	return out, nil
}

// opContext bounds a single statement by the configured op timeout.
func (s *SQL) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// rebind rewrites "?" placeholders into "$n" for PostgreSQL. The statements
// above never contain literal question marks.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 8)

	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCredential scans one credentials row. Timestamps are stored as Unix
// nanoseconds; an expiry of 0 means "no expiry".
func scanCredential(row rowScanner) (*Credential, error) {
	var (
		c                        Credential
		expiry, created, updated int64
	)

	if err := row.Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &expiry, &created, &updated); err != nil {
		return nil, err
	}

	if expiry != 0 {
		c.Expiry = time.Unix(0, expiry)
	}

	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)

	return &c, nil
}

// unixNano maps the zero time to 0 rather than a large negative number.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
