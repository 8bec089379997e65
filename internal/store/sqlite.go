package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/echofix/echofix/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
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
	// Create migrations tracking table
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

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
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

// --- Feedback items ---

const feedbackColumns = `id, external_id, kind, title, body, author, forum, permalink, score, num_comments,
	status, last_score_check_at, processed_at, ticket_url, pr_url, plan_path,
	insight_id, repo_config_id, source_created_at, created_at`

func scanFeedbackItem(row interface{ Scan(...any) error }) (*models.FeedbackItem, error) {
	item := &models.FeedbackItem{}
	var kind, status string
	var lastCheck, processedAt, sourceCreated sql.NullTime
	var insightID, repoConfigID sql.NullString

	err := row.Scan(&item.ID, &item.ExternalID, &kind, &item.Title, &item.Body, &item.Author,
		&item.Forum, &item.Permalink, &item.Score, &item.NumComments,
		&status, &lastCheck, &processedAt, &item.TicketURL, &item.PRURL, &item.PlanPath,
		&insightID, &repoConfigID, &sourceCreated, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	item.Kind = models.FeedbackKind(kind)
	item.Status = models.FeedbackStatus(status)
	if lastCheck.Valid {
		item.LastScoreCheckAt = &lastCheck.Time
	}
	if processedAt.Valid {
		item.ProcessedAt = &processedAt.Time
	}
	if sourceCreated.Valid {
		item.SourceCreatedAt = &sourceCreated.Time
	}
	item.InsightID = insightID.String
	item.RepoConfigID = repoConfigID.String
	return item, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// UpsertFeedbackItem inserts a new feedback item or refreshes an existing one
// keyed by external_id. On conflict the content and score fields are updated,
// but the stored status only advances: items already claimed, processed, or
// otherwise past pending never move backward because of a re-ingest.
func (s *SQLiteStore) UpsertFeedbackItem(ctx context.Context, item *models.FeedbackItem) (bool, error) {
	existing, err := s.GetFeedbackItemByExternalID(ctx, item.ExternalID)
	if err != nil && err != ErrNotFound {
		return false, err
	}

	if existing == nil {
		if item.ID == "" {
			item.ID = newULID()
		}
		if item.Status == "" {
			item.Status = models.FeedbackPending
		}
		item.CreatedAt = time.Now().UTC()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO feedback_items (`+feedbackColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.ExternalID, string(item.Kind), item.Title, item.Body, item.Author,
			item.Forum, item.Permalink, item.Score, item.NumComments,
			string(item.Status), nullableTime(item.LastScoreCheckAt), nullableTime(item.ProcessedAt),
			item.TicketURL, item.PRURL, item.PlanPath,
			nullableString(item.InsightID), nullableString(item.RepoConfigID),
			nullableTime(item.SourceCreatedAt), item.CreatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("insert feedback item: %w", err)
		}
		return true, nil
	}

	// Resolve status: an existing item only moves forward. Pending may become
	// ready when the incoming score clears the threshold; everything else stays.
	status := existing.Status
	if existing.Status == models.FeedbackPending && item.Status == models.FeedbackReady {
		status = models.FeedbackReady
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE feedback_items SET kind=?, title=?, body=?, author=?, forum=?, permalink=?,
			score=?, num_comments=?, status=?, last_score_check_at=?, source_created_at=?
		WHERE external_id=?`,
		string(item.Kind), item.Title, item.Body, item.Author, item.Forum, item.Permalink,
		item.Score, item.NumComments, string(status), nullableTime(item.LastScoreCheckAt),
		nullableTime(item.SourceCreatedAt), item.ExternalID,
	)
	if err != nil {
		return false, fmt.Errorf("update feedback item: %w", err)
	}

	item.ID = existing.ID
	item.Status = status
	item.CreatedAt = existing.CreatedAt
	return false, nil
}

func (s *SQLiteStore) GetFeedbackItem(ctx context.Context, id string) (*models.FeedbackItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_items WHERE id = ?`, id)
	item, err := scanFeedbackItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) GetFeedbackItemByExternalID(ctx context.Context, externalID string) (*models.FeedbackItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_items WHERE external_id = ?`, externalID)
	item, err := scanFeedbackItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback item by external id: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) ListFeedbackItems(ctx context.Context, filter FeedbackFilter) ([]*models.FeedbackItem, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback_items WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.InsightID != "" {
		query += " AND insight_id = ?"
		args = append(args, filter.InsightID)
	}
	if filter.Forum != "" {
		query += " AND forum = ?"
		args = append(args, filter.Forum)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.FeedbackItem
	for rows.Next() {
		item, err := scanFeedbackItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) UpdateFeedbackItem(ctx context.Context, item *models.FeedbackItem) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE feedback_items SET kind=?, title=?, body=?, author=?, forum=?, permalink=?,
			score=?, num_comments=?, status=?, last_score_check_at=?, processed_at=?,
			ticket_url=?, pr_url=?, plan_path=?, insight_id=?, repo_config_id=?, source_created_at=?
		WHERE id=?`,
		string(item.Kind), item.Title, item.Body, item.Author, item.Forum, item.Permalink,
		item.Score, item.NumComments, string(item.Status),
		nullableTime(item.LastScoreCheckAt), nullableTime(item.ProcessedAt),
		item.TicketURL, item.PRURL, item.PlanPath,
		nullableString(item.InsightID), nullableString(item.RepoConfigID),
		nullableTime(item.SourceCreatedAt), item.ID,
	)
	if err != nil {
		return fmt.Errorf("update feedback item: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("feedback item not found: %s", item.ID)
	}
	return nil
}

// ClaimFeedbackItem transitions a ready item to processing. The conditional
// WHERE clause makes the claim exclusive: a second caller sees zero rows
// affected and backs off.
func (s *SQLiteStore) ClaimFeedbackItem(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE feedback_items SET status = ? WHERE id = ? AND status = ?`,
		string(models.FeedbackProcessing), id, string(models.FeedbackReady),
	)
	if err != nil {
		return false, fmt.Errorf("claim feedback item: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// --- Insights ---

const insightColumns = `id, theme, description, entry_count, status, priority,
	ticket_json, patch_plan_json, ticket_number, ticket_url, pr_number, pr_url,
	pr_merged, pr_merged_at, community_approval_requested, community_reply_id,
	community_reply_score, community_approved, community_approved_at,
	repo_config_id, approved_at, created_at, updated_at`

func scanInsight(row interface{ Scan(...any) error }) (*models.Insight, error) {
	in := &models.Insight{}
	var status, priority string
	var ticketJSON, patchPlanJSON, repoConfigID sql.NullString
	var prMergedAt, communityApprovedAt, approvedAt sql.NullTime

	err := row.Scan(&in.ID, &in.Theme, &in.Description, &in.EntryCount, &status, &priority,
		&ticketJSON, &patchPlanJSON, &in.TicketNumber, &in.TicketURL, &in.PRNumber, &in.PRURL,
		&in.PRMerged, &prMergedAt, &in.CommunityApprovalRequested, &in.CommunityReplyID,
		&in.CommunityReplyScore, &in.CommunityApproved, &communityApprovedAt,
		&repoConfigID, &approvedAt, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}

	in.Status = models.InsightStatus(status)
	in.Priority = models.Priority(priority)
	if ticketJSON.Valid && ticketJSON.String != "" {
		t := &models.Ticket{}
		if err := json.Unmarshal([]byte(ticketJSON.String), t); err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		in.Ticket = t
	}
	if patchPlanJSON.Valid && patchPlanJSON.String != "" {
		p := &models.PatchPlan{}
		if err := json.Unmarshal([]byte(patchPlanJSON.String), p); err != nil {
			return nil, fmt.Errorf("decode patch plan: %w", err)
		}
		in.PatchPlan = p
	}
	if prMergedAt.Valid {
		in.PRMergedAt = &prMergedAt.Time
	}
	if communityApprovedAt.Valid {
		in.CommunityApprovedAt = &communityApprovedAt.Time
	}
	if approvedAt.Valid {
		in.ApprovedAt = &approvedAt.Time
	}
	in.RepoConfigID = repoConfigID.String
	return in, nil
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *SQLiteStore) CreateInsight(ctx context.Context, insight *models.Insight) error {
	return insertInsight(ctx, s.db, insight)
}

// CreateInsightWithItem creates the insight and attaches its first member
// item in one transaction, so a crash between the two writes can never
// leave a zero-member insight behind.
func (s *SQLiteStore) CreateInsightWithItem(ctx context.Context, insight *models.Insight, itemID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create insight: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertInsight(ctx, tx, insight); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE feedback_items SET insight_id = ? WHERE id = ?`, insight.ID, itemID)
	if err != nil {
		return fmt.Errorf("attach item: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("feedback item not found: %s", itemID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE insights SET entry_count = (SELECT COUNT(*) FROM feedback_items WHERE insight_id = ?), updated_at = ?
		WHERE id = ?`, insight.ID, time.Now().UTC(), insight.ID)
	if err != nil {
		return fmt.Errorf("recount insight entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	insight.EntryCount = 1
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertInsight(ctx context.Context, db execer, insight *models.Insight) error {
	if insight.ID == "" {
		insight.ID = newULID()
	}
	if insight.Status == "" {
		insight.Status = models.InsightPending
	}
	if insight.Priority == "" {
		insight.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	insight.CreatedAt = now
	insight.UpdatedAt = now

	ticketJSON, err := encodeTicket(insight.Ticket)
	if err != nil {
		return err
	}
	planJSON, err := encodePatchPlan(insight.PatchPlan)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO insights (`+insightColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insight.ID, insight.Theme, insight.Description, insight.EntryCount,
		string(insight.Status), string(insight.Priority),
		ticketJSON, planJSON, insight.TicketNumber, insight.TicketURL,
		insight.PRNumber, insight.PRURL, boolToInt(insight.PRMerged), nullableTime(insight.PRMergedAt),
		boolToInt(insight.CommunityApprovalRequested), insight.CommunityReplyID,
		insight.CommunityReplyScore, boolToInt(insight.CommunityApproved),
		nullableTime(insight.CommunityApprovedAt), nullableString(insight.RepoConfigID),
		nullableTime(insight.ApprovedAt), insight.CreatedAt, insight.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create insight: %w", err)
	}
	return nil
}

func encodeTicket(t *models.Ticket) (any, error) {
	if t == nil {
		return nil, nil
	}
	out, err := encodeJSON(t)
	if err != nil {
		return nil, fmt.Errorf("encode ticket: %w", err)
	}
	return out, nil
}

func encodePatchPlan(p *models.PatchPlan) (any, error) {
	if p == nil {
		return nil, nil
	}
	out, err := encodeJSON(p)
	if err != nil {
		return nil, fmt.Errorf("encode patch plan: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = ?`, id)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get insight: %w", err)
	}
	return in, nil
}

func (s *SQLiteStore) GetOpenInsightByTheme(ctx context.Context, theme string) (*models.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights
		WHERE theme = ? AND status NOT IN (?, ?)
		ORDER BY created_at ASC LIMIT 1`,
		theme, string(models.InsightCompleted), string(models.InsightClosed))
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open insight by theme: %w", err)
	}
	return in, nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context, filter InsightFilter) ([]*models.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Theme != "" {
		query += " AND theme = ?"
		args = append(args, filter.Theme)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insights []*models.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

func (s *SQLiteStore) UpdateInsight(ctx context.Context, insight *models.Insight) error {
	insight.UpdatedAt = time.Now().UTC()

	ticketJSON, err := encodeTicket(insight.Ticket)
	if err != nil {
		return err
	}
	planJSON, err := encodePatchPlan(insight.PatchPlan)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE insights SET theme=?, description=?, entry_count=?, status=?, priority=?,
			ticket_json=?, patch_plan_json=?, ticket_number=?, ticket_url=?,
			pr_number=?, pr_url=?, pr_merged=?, pr_merged_at=?,
			community_approval_requested=?, community_reply_id=?, community_reply_score=?,
			community_approved=?, community_approved_at=?,
			repo_config_id=?, approved_at=?, updated_at=?
		WHERE id=?`,
		insight.Theme, insight.Description, insight.EntryCount,
		string(insight.Status), string(insight.Priority),
		ticketJSON, planJSON, insight.TicketNumber, insight.TicketURL,
		insight.PRNumber, insight.PRURL, boolToInt(insight.PRMerged), nullableTime(insight.PRMergedAt),
		boolToInt(insight.CommunityApprovalRequested), insight.CommunityReplyID, insight.CommunityReplyScore,
		boolToInt(insight.CommunityApproved), nullableTime(insight.CommunityApprovedAt),
		nullableString(insight.RepoConfigID), nullableTime(insight.ApprovedAt), insight.UpdatedAt,
		insight.ID,
	)
	if err != nil {
		return fmt.Errorf("update insight: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("insight not found: %s", insight.ID)
	}
	return nil
}

func (s *SQLiteStore) ClaimInsightForAnalysis(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE insights SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.InsightAnalyzing), time.Now().UTC(), id, string(models.InsightPending),
	)
	if err != nil {
		return false, fmt.Errorf("claim insight: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkCommunityApproved(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE insights SET community_approved = 1, community_approved_at = ?, updated_at = ?
		WHERE id = ? AND community_approved = 0`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark community approved: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// AttachItemToInsight links the feedback item and recomputes the insight's
// entry count from the link table state, inside one transaction, so the count
// always matches the number of attached items.
func (s *SQLiteStore) AttachItemToInsight(ctx context.Context, itemID, insightID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE feedback_items SET insight_id = ? WHERE id = ?`, insightID, itemID)
	if err != nil {
		return fmt.Errorf("attach item: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("feedback item not found: %s", itemID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE insights SET entry_count = (SELECT COUNT(*) FROM feedback_items WHERE insight_id = ?), updated_at = ?
		WHERE id = ?`, insightID, time.Now().UTC(), insightID)
	if err != nil {
		return fmt.Errorf("recount insight entries: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListInsightItems(ctx context.Context, insightID string) ([]*models.FeedbackItem, error) {
	return s.ListFeedbackItems(ctx, FeedbackFilter{InsightID: insightID})
}

// --- Repo configuration ---

func (s *SQLiteStore) SaveRepoConfig(ctx context.Context, cfg *models.RepoConfig) error {
	forums, err := encodeJSON(cfg.Forums)
	if err != nil {
		return fmt.Errorf("encode forums: %w", err)
	}
	keywords, err := encodeJSON(cfg.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	if forums == nil {
		forums = "[]"
	}
	if keywords == nil {
		keywords = "[]"
	}

	now := time.Now().UTC()
	if cfg.ID == "" {
		existing, err := s.GetRepoConfig(ctx)
		if err != nil && err != ErrNotFound {
			return err
		}
		if existing != nil {
			cfg.ID = existing.ID
			cfg.CreatedAt = existing.CreatedAt
		}
	}

	if cfg.ID == "" {
		cfg.ID = newULID()
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO repo_configs (id, owner, repo, branch, forums_json, keywords_json,
				auto_create_tickets, auto_create_prs, require_approval, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.ID, cfg.Owner, cfg.Repo, cfg.Branch, forums, keywords,
			boolToInt(cfg.AutoCreateTickets), boolToInt(cfg.AutoCreatePRs),
			boolToInt(cfg.RequireApproval), cfg.CreatedAt, cfg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert repo config: %w", err)
		}
		return nil
	}

	cfg.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE repo_configs SET owner=?, repo=?, branch=?, forums_json=?, keywords_json=?,
			auto_create_tickets=?, auto_create_prs=?, require_approval=?, updated_at=?
		WHERE id=?`,
		cfg.Owner, cfg.Repo, cfg.Branch, forums, keywords,
		boolToInt(cfg.AutoCreateTickets), boolToInt(cfg.AutoCreatePRs),
		boolToInt(cfg.RequireApproval), cfg.UpdatedAt, cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("update repo config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepoConfig(ctx context.Context) (*models.RepoConfig, error) {
	cfg := &models.RepoConfig{}
	var forums, keywords string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner, repo, branch, forums_json, keywords_json,
			auto_create_tickets, auto_create_prs, require_approval, created_at, updated_at
		FROM repo_configs ORDER BY created_at LIMIT 1`,
	).Scan(&cfg.ID, &cfg.Owner, &cfg.Repo, &cfg.Branch, &forums, &keywords,
		&cfg.AutoCreateTickets, &cfg.AutoCreatePRs, &cfg.RequireApproval,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repo config: %w", err)
	}
	if err := json.Unmarshal([]byte(forums), &cfg.Forums); err != nil {
		return nil, fmt.Errorf("decode forums: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &cfg.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	return cfg, nil
}

// --- Execution logs ---

func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	if entry.ID == "" {
		entry.ID = newULID()
	}
	if entry.Level == "" {
		entry.Level = models.LogInfo
	}
	entry.CreatedAt = time.Now().UTC()

	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode log metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_logs (id, insight_id, level, message, step_name, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.InsightID, string(entry.Level), entry.Message, entry.StepName,
		metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExecutionLogs(ctx context.Context, insightID string) ([]*models.ExecutionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, insight_id, level, message, step_name, metadata_json, created_at
		FROM execution_logs WHERE insight_id = ? ORDER BY created_at`, insightID)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ExecutionLogEntry
	for rows.Next() {
		entry := &models.ExecutionLogEntry{}
		var level string
		var metadata sql.NullString
		if err := rows.Scan(&entry.ID, &entry.InsightID, &level, &entry.Message,
			&entry.StepName, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		entry.Level = models.LogLevel(level)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode log metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- Maintenance ---

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		FeedbackByStatus: make(map[models.FeedbackStatus]int),
		InsightByStatus:  make(map[models.InsightStatus]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM feedback_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("feedback stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan feedback stats: %w", err)
		}
		stats.FeedbackByStatus[models.FeedbackStatus(status)] = count
		stats.FeedbackTotal += count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM insights GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("insight stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan insight stats: %w", err)
		}
		stats.InsightByStatus[models.InsightStatus(status)] = count
		stats.InsightTotal += count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM insights WHERE ticket_url != ''`).Scan(&stats.TicketsCreated)
	if err != nil {
		return nil, fmt.Errorf("ticket stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM insights WHERE pr_url != ''`).Scan(&stats.PRsCreated)
	if err != nil {
		return nil, fmt.Errorf("pr stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM insights WHERE pr_merged = 1`).Scan(&stats.PRsMerged)
	if err != nil {
		return nil, fmt.Errorf("pr merged stats: %w", err)
	}

	return stats, nil
}

// Purge deletes all pipeline data. Repo configuration is kept.
func (s *SQLiteStore) Purge(ctx context.Context) error {
	for _, table := range []string{"execution_logs", "feedback_items", "insights"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}
