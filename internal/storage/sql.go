package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forllm/internal/domain"
	"forllm/internal/settings"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect selects placeholder style and schema.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect. libsql speaks
// the SQLite dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "libsql":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("storage: unsupported driver %q", driver)
	}
}

// ErrInvalidTransition is returned when a job is not in a state that
// allows the requested change.
var ErrInvalidTransition = errors.New("storage: invalid status transition")

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// rowsAffectedFunc wraps sql.Result.RowsAffected for testing error paths.
type rowsAffectedFunc func(sql.Result) (int64, error)

// SQLStore implements every store interface over database/sql. The same
// queries run on SQLite, libSQL and PostgreSQL.
type SQLStore struct {
	db           *sql.DB
	dialect      Dialect
	now          func() time.Time
	rowsAffected rowsAffectedFunc // nil means use res.RowsAffected(); for testing only
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithClock overrides the time source used for created_at and processed_at.
func WithClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLStore creates the schema if needed, seeds the fallback persona and
// the default settings, and returns the store.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("storage migrate: %w", err)
	}
	if err := s.seed(ctx); err != nil {
		return nil, fmt.Errorf("storage seed: %w", err)
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) affected(res sql.Result) (int64, error) {
	if s.rowsAffected != nil {
		return s.rowsAffected(res)
	}
	return res.RowsAffected()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) seed(ctx context.Context) error {
	now := formatTime(s.now())
	if _, err := s.exec(ctx, `
		INSERT INTO personas (persona_id, name, prompt_instructions, is_active, version, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (persona_id) DO NOTHING`,
		domain.FallbackPersonaID, domain.FallbackPersonaName, domain.FallbackPersonaInstructions, true, now); err != nil {
		return err
	}
	if s.dialect == DialectPostgres {
		// Explicit ids do not advance identity sequences.
		if _, err := s.db.ExecContext(ctx,
			`SELECT setval(pg_get_serial_sequence('personas', 'persona_id'), (SELECT MAX(persona_id) FROM personas))`); err != nil {
			return err
		}
	}
	for k, v := range settings.Defaults() {
		if _, err := s.exec(ctx,
			`INSERT INTO settings (setting_key, setting_value) VALUES (?, ?) ON CONFLICT (setting_key) DO NOTHING`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Forum
// =============================================================================

const postColumns = `post_id, topic_id, user_id, parent_post_id, content, created_at, is_llm_response, llm_model_id, llm_persona_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (domain.Post, error) {
	var (
		p         domain.Post
		parent    sql.NullInt64
		persona   sql.NullInt64
		model     sql.NullString
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.TopicID, &p.UserID, &parent, &p.Content, &createdAt, &p.IsLLMResponse, &model, &persona); err != nil {
		return p, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return p, fmt.Errorf("post %d created_at: %w", p.ID, err)
	}
	p.CreatedAt = t
	p.ParentPostID = int64Ptr(parent)
	p.LLMPersonaID = int64Ptr(persona)
	p.LLMModelID = model.String
	return p, nil
}

// GetPost implements domain.ForumStore.
func (s *SQLStore) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	p, err := scanPost(s.queryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE post_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListTopicPosts implements domain.ForumStore.
func (s *SQLStore) ListTopicPosts(ctx context.Context, topicID int64) ([]domain.Post, error) {
	rows, err := s.query(ctx, `SELECT `+postColumns+` FROM posts WHERE topic_id = ? ORDER BY created_at, post_id`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePost implements domain.ForumStore. A zero CreatedAt is stamped
// with the store clock.
func (s *SQLStore) CreatePost(ctx context.Context, p *domain.Post) (int64, error) {
	if p == nil || p.TopicID <= 0 {
		return 0, fmt.Errorf("storage: post needs a topic id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO posts (topic_id, user_id, parent_post_id, content, created_at, is_llm_response, llm_model_id, llm_persona_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING post_id`,
		p.TopicID, p.UserID, nullInt64(p.ParentPostID), p.Content, formatTime(p.CreatedAt),
		p.IsLLMResponse, nullString(p.LLMModelID), nullInt64(p.LLMPersonaID)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	p.ID = id
	return id, nil
}

// ListAttachments implements domain.ForumStore.
func (s *SQLStore) ListAttachments(ctx context.Context, postID int64) ([]domain.Attachment, error) {
	rows, err := s.query(ctx,
		`SELECT attachment_id, post_id, filename, mime_type, content FROM attachments WHERE post_id = ? ORDER BY attachment_id`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var mime sql.NullString
		if err := rows.Scan(&a.ID, &a.PostID, &a.Filename, &mime, &a.Content); err != nil {
			return nil, err
		}
		a.MimeType = mime.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAttachment stores a text attachment for a post.
func (s *SQLStore) AddAttachment(ctx context.Context, a *domain.Attachment) (int64, error) {
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO attachments (post_id, filename, mime_type, content) VALUES (?, ?, ?, ?) RETURNING attachment_id`,
		a.PostID, a.Filename, nullString(a.MimeType), a.Content).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert attachment: %w", err)
	}
	a.ID = id
	return id, nil
}

// =============================================================================
// Personas
// =============================================================================

// GetPersona implements domain.PersonaStore.
func (s *SQLStore) GetPersona(ctx context.Context, id int64) (*domain.Persona, error) {
	var (
		p         domain.Persona
		createdAt string
	)
	err := s.queryRow(ctx,
		`SELECT persona_id, name, prompt_instructions, is_active, version, created_at FROM personas WHERE persona_id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Instructions, &p.IsActive, &p.Version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persona %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("persona %d created_at: %w", id, err)
	}
	return &p, nil
}

// CreatePersona implements domain.PersonaStore. The first version is
// recorded in persona_versions in the same transaction.
func (s *SQLStore) CreatePersona(ctx context.Context, name, instructions string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	var id int64
	if err := tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO personas (name, prompt_instructions, is_active, version, created_at)
		VALUES (?, ?, ?, 1, ?)
		RETURNING persona_id`), name, instructions, true, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert persona: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO persona_versions (persona_id, version, prompt_instructions, created_at)
		VALUES (?, 1, ?, ?)`), id, instructions, now); err != nil {
		return 0, fmt.Errorf("insert persona version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// =============================================================================
// Settings, schedule, context cache
// =============================================================================

// GetSetting implements domain.SettingsStore.
func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.queryRow(ctx, `SELECT setting_value FROM settings WHERE setting_key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting implements domain.SettingsStore.
func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)
		ON CONFLICT (setting_key) DO UPDATE SET setting_value = excluded.setting_value`, key, value)
	return err
}

// SetTopicSubforum records which subforum a topic belongs to.
func (s *SQLStore) SetTopicSubforum(ctx context.Context, topicID, subforumID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO topic_subforums (topic_id, subforum_id) VALUES (?, ?)
		ON CONFLICT (topic_id) DO UPDATE SET subforum_id = excluded.subforum_id`, topicID, subforumID)
	return err
}

// SetSubforumDefaultPersona sets the persona replies in a subforum use
// when none is requested.
func (s *SQLStore) SetSubforumDefaultPersona(ctx context.Context, subforumID, personaID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO subforum_default_personas (subforum_id, persona_id) VALUES (?, ?)
		ON CONFLICT (subforum_id) DO UPDATE SET persona_id = excluded.persona_id`, subforumID, personaID)
	return err
}

// SubforumDefaultPersona implements domain.SubforumPersonaStore.
func (s *SQLStore) SubforumDefaultPersona(ctx context.Context, topicID int64) (int64, bool, error) {
	var id int64
	err := s.queryRow(ctx, `
		SELECT d.persona_id FROM topic_subforums t
		JOIN subforum_default_personas d ON d.subforum_id = t.subforum_id
		WHERE t.topic_id = ?`, topicID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ListSchedules implements domain.ScheduleStore. A row with an
// unparsable day list is returned with no days, which never matches.
func (s *SQLStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.query(ctx, `SELECT id, start_hour, end_hour, days_active, enabled FROM schedule ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Schedule
	for rows.Next() {
		var sc domain.Schedule
		var days string
		if err := rows.Scan(&sc.ID, &sc.StartHour, &sc.EndHour, &days, &sc.Enabled); err != nil {
			return nil, err
		}
		sc.Days, _ = parseDays(days)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// AddSchedule implements domain.ScheduleStore.
func (s *SQLStore) AddSchedule(ctx context.Context, sc domain.Schedule) (int64, error) {
	if err := validateSchedule(sc); err != nil {
		return 0, err
	}
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO schedule (start_hour, end_hour, days_active, enabled) VALUES (?, ?, ?, ?) RETURNING id`,
		sc.StartHour, sc.EndHour, formatDays(sc.Days), sc.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert schedule: %w", err)
	}
	return id, nil
}

// GetContextWindow implements domain.ContextCache.
func (s *SQLStore) GetContextWindow(ctx context.Context, model string) (*int, bool, error) {
	var w sql.NullInt64
	err := s.queryRow(ctx, `SELECT context_window FROM model_context_cache WHERE model_name = ?`, model).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !w.Valid {
		return nil, true, nil
	}
	v := int(w.Int64)
	return &v, true, nil
}

// SetContextWindow implements domain.ContextCache. A nil window caches
// "unknown".
func (s *SQLStore) SetContextWindow(ctx context.Context, model string, window *int, checkedAt time.Time) error {
	var w sql.NullInt64
	if window != nil {
		w = sql.NullInt64{Int64: int64(*window), Valid: true}
	}
	_, err := s.exec(ctx, `
		INSERT INTO model_context_cache (model_name, context_window, checked_at) VALUES (?, ?, ?)
		ON CONFLICT (model_name) DO UPDATE SET context_window = excluded.context_window, checked_at = excluded.checked_at`,
		model, w, formatTime(checkedAt))
	return err
}

// =============================================================================
// Requests
// =============================================================================

const requestColumns = `request_id, post_id_to_respond_to, status, request_type, llm_model, llm_persona_id,
	request_params, parent_request_id, requested_at, processed_at, full_prompt_sent,
	prompt_token_breakdown, result_id, error_message`

func scanRequest(row scanner) (*domain.LLMRequest, error) {
	var (
		r           domain.LLMRequest
		postID      sql.NullInt64
		model       sql.NullString
		personaID   sql.NullInt64
		params      sql.NullString
		parentID    sql.NullInt64
		requestedAt string
		processedAt sql.NullString
		prompt      sql.NullString
		breakdown   sql.NullString
		resultID    sql.NullInt64
		errMsg      sql.NullString
	)
	if err := row.Scan(&r.ID, &postID, &r.Status, &r.Type, &model, &personaID, &params, &parentID,
		&requestedAt, &processedAt, &prompt, &breakdown, &resultID, &errMsg); err != nil {
		return nil, err
	}
	t, err := parseTime(requestedAt)
	if err != nil {
		return nil, fmt.Errorf("request %d requested_at: %w", r.ID, err)
	}
	r.RequestedAt = t
	if processedAt.Valid && processedAt.String != "" {
		pt, err := parseTime(processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("request %d processed_at: %w", r.ID, err)
		}
		r.ProcessedAt = &pt
	}
	if breakdown.Valid && breakdown.String != "" {
		var b domain.TokenBreakdown
		if err := json.Unmarshal([]byte(breakdown.String), &b); err != nil {
			return nil, fmt.Errorf("request %d breakdown: %w", r.ID, err)
		}
		r.Breakdown = &b
	}
	r.PostID = int64Ptr(postID)
	r.PersonaID = int64Ptr(personaID)
	r.ParentRequestID = int64Ptr(parentID)
	r.ResultID = int64Ptr(resultID)
	r.Model = model.String
	r.FullPrompt = prompt.String
	r.ErrorMessage = errMsg.String
	if params.Valid && params.String != "" {
		r.Params = []byte(params.String)
	}
	return &r, nil
}

// InsertRequest implements domain.RequestStore. An empty status becomes
// pending, or pending_dependency when the job has a parent.
func (s *SQLStore) InsertRequest(ctx context.Context, r *domain.LLMRequest) (int64, error) {
	prepareInsert(r, s.now)
	var params sql.NullString
	if len(r.Params) > 0 {
		params = sql.NullString{String: string(r.Params), Valid: true}
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO llm_requests (post_id_to_respond_to, status, request_type, llm_model, llm_persona_id,
			request_params, parent_request_id, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING request_id`,
		nullInt64(r.PostID), string(r.Status), string(r.Type), nullString(r.Model), nullInt64(r.PersonaID),
		params, nullInt64(r.ParentRequestID), formatTime(r.RequestedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}
	r.ID = id
	return id, nil
}

// GetRequest implements domain.RequestStore.
func (s *SQLStore) GetRequest(ctx context.Context, id int64) (*domain.LLMRequest, error) {
	r, err := scanRequest(s.queryRow(ctx, `SELECT `+requestColumns+` FROM llm_requests WHERE request_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// ClaimRequest implements domain.RequestStore.
func (s *SQLStore) ClaimRequest(ctx context.Context, id int64) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE llm_requests SET status = 'processing' WHERE request_id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := s.affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimNextPending implements domain.RequestStore. Oldest first, ties
// broken by id.
func (s *SQLStore) ClaimNextPending(ctx context.Context) (*domain.LLMRequest, error) {
	r, err := scanRequest(s.queryRow(ctx, `
		UPDATE llm_requests SET status = 'processing'
		WHERE request_id = (
			SELECT request_id FROM llm_requests WHERE status = 'pending'
			ORDER BY requested_at, request_id LIMIT 1
		) AND status = 'pending'
		RETURNING `+requestColumns))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// SavePrompt implements domain.RequestStore.
func (s *SQLStore) SavePrompt(ctx context.Context, id int64, prompt string, breakdown domain.TokenBreakdown) error {
	b, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}
	return s.update(ctx, id,
		`UPDATE llm_requests SET full_prompt_sent = ?, prompt_token_breakdown = ? WHERE request_id = ?`,
		prompt, string(b), id)
}

// CompleteRequest implements domain.RequestStore.
func (s *SQLStore) CompleteRequest(ctx context.Context, id int64, resultID *int64) error {
	return s.update(ctx, id, `
		UPDATE llm_requests SET status = 'complete', processed_at = ?, result_id = ?, error_message = NULL
		WHERE request_id = ?`, formatTime(s.now()), nullInt64(resultID), id)
}

// FailRequest implements domain.RequestStore.
func (s *SQLStore) FailRequest(ctx context.Context, id int64, message string) error {
	return s.update(ctx, id, `
		UPDATE llm_requests SET status = 'error', processed_at = ?, error_message = ?
		WHERE request_id = ?`, formatTime(s.now()), message, id)
}

func (s *SQLStore) update(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := s.affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ActivateDependents implements domain.RequestStore.
func (s *SQLStore) ActivateDependents(ctx context.Context, parentID, postID int64) ([]int64, error) {
	rows, err := s.query(ctx, `
		UPDATE llm_requests SET status = 'pending', post_id_to_respond_to = ?
		WHERE parent_request_id = ? AND status = 'pending_dependency'
		RETURNING request_id`, postID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortIDs(ids)
	return ids, nil
}

// FailDependents implements domain.RequestStore.
func (s *SQLStore) FailDependents(ctx context.Context, parentID int64, message string) ([]int64, error) {
	rows, err := s.query(ctx, `
		UPDATE llm_requests SET status = 'error', processed_at = ?, error_message = ?
		WHERE parent_request_id = ? AND status = 'pending_dependency'
		RETURNING request_id`, formatTime(s.now()), message, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortIDs(ids)
	return ids, nil
}

// ListRequestsByStatus implements domain.RequestStore.
func (s *SQLStore) ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.LLMRequest, error) {
	rows, err := s.query(ctx,
		`SELECT `+requestColumns+` FROM llm_requests WHERE status = ? ORDER BY requested_at, request_id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LLMRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RequeueRequest implements domain.RequestStore.
func (s *SQLStore) RequeueRequest(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `
		UPDATE llm_requests SET status = 'pending', processed_at = NULL, error_message = NULL
		WHERE request_id = ? AND status IN ('processing', 'error')`, id)
	if err != nil {
		return err
	}
	n, err := s.affected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	r, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("request %d is %s: %w", id, r.Status, ErrInvalidTransition)
}

var (
	_ domain.ForumStore    = (*SQLStore)(nil)
	_ domain.PersonaStore  = (*SQLStore)(nil)
	_ domain.SettingsStore = (*SQLStore)(nil)
	_ domain.ScheduleStore = (*SQLStore)(nil)
	_ domain.ContextCache  = (*SQLStore)(nil)
	_ domain.RequestStore  = (*SQLStore)(nil)
)
