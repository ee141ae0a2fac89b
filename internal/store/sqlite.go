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
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atparisi/revq/internal/models"

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

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent validators.
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

// --- Escalation Policies ---

func (s *SQLiteStore) CreatePolicy(ctx context.Context, p *models.EscalationPolicy) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escalation_policies (id, name, min_agreement_ratio, min_confidence, auto_pass_threshold, escalate_threshold, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.MinAgreementRatio, p.MinConfidence,
		p.AutoPassThreshold, p.EscalateThreshold, boolToInt(p.IsActive), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

const policyColumns = `id, name, min_agreement_ratio, min_confidence, auto_pass_threshold, escalate_threshold, is_active, created_at`

func (s *SQLiteStore) scanPolicy(row *sql.Row) (*models.EscalationPolicy, error) {
	p := &models.EscalationPolicy{}
	err := row.Scan(&p.ID, &p.Name, &p.MinAgreementRatio, &p.MinConfidence,
		&p.AutoPassThreshold, &p.EscalateThreshold, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, id string) (*models.EscalationPolicy, error) {
	p, err := s.scanPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM escalation_policies WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetActivePolicy(ctx context.Context) (*models.EscalationPolicy, error) {
	p, err := s.scanPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM escalation_policies WHERE is_active = 1 ORDER BY created_at DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active policy: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active policy: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPolicies(ctx context.Context) ([]*models.EscalationPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM escalation_policies ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []*models.EscalationPolicy
	for rows.Next() {
		p := &models.EscalationPolicy{}
		if err := rows.Scan(&p.ID, &p.Name, &p.MinAgreementRatio, &p.MinConfidence,
			&p.AutoPassThreshold, &p.EscalateThreshold, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// ActivatePolicy makes the given policy the single active one. Policy rows
// themselves are immutable; only the active flag moves.
func (s *SQLiteStore) ActivatePolicy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE escalation_policies SET is_active = 0 WHERE is_active = 1"); err != nil {
		return fmt.Errorf("deactivate policies: %w", err)
	}

	result, err := tx.ExecContext(ctx, "UPDATE escalation_policies SET is_active = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Validation Results ---

const validationResultColumns = `id, script_id, language_code, confidence, agreement_ratio, requires_native_speaker, outcome, reason, policy_id, created_at, updated_at`

func (s *SQLiteStore) CreateValidationResult(ctx context.Context, r *models.ValidationResult) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Outcome == "" {
		r.Outcome = models.OutcomePending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_results (`+validationResultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScriptID, r.LanguageCode, r.Confidence, r.AgreementRatio,
		boolToInt(r.RequiresNativeSpeaker), string(r.Outcome), r.Reason, r.PolicyID,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create validation result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetValidationResult(ctx context.Context, id string) (*models.ValidationResult, error) {
	r := &models.ValidationResult{}
	var outcome string

	err := s.db.QueryRowContext(ctx,
		`SELECT `+validationResultColumns+` FROM validation_results WHERE id = ?`, id,
	).Scan(&r.ID, &r.ScriptID, &r.LanguageCode, &r.Confidence, &r.AgreementRatio,
		&r.RequiresNativeSpeaker, &outcome, &r.Reason, &r.PolicyID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("validation result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get validation result: %w", err)
	}

	r.Outcome = models.ReviewOutcome(outcome)
	return r, nil
}

func (s *SQLiteStore) ListValidationResults(ctx context.Context, scriptID string, limit int) ([]*models.ValidationResult, error) {
	query := `SELECT ` + validationResultColumns + ` FROM validation_results`
	var args []any

	if scriptID != "" {
		query += " WHERE script_id = ?"
		args = append(args, scriptID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list validation results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*models.ValidationResult
	for rows.Next() {
		r := &models.ValidationResult{}
		var outcome string
		if err := rows.Scan(&r.ID, &r.ScriptID, &r.LanguageCode, &r.Confidence, &r.AgreementRatio,
			&r.RequiresNativeSpeaker, &outcome, &r.Reason, &r.PolicyID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan validation result: %w", err)
		}
		r.Outcome = models.ReviewOutcome(outcome)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) RecordValidationOutcome(ctx context.Context, id string, outcome models.ReviewOutcome, reason, policyID string, confidence, agreementRatio float64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE validation_results SET outcome=?, reason=?, policy_id=?, confidence=?, agreement_ratio=?, updated_at=?
		WHERE id=?`,
		string(outcome), reason, policyID, confidence, agreementRatio, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record validation outcome: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("validation result %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Review Queue ---

const queueColumns = `id, validation_result_id, priority, confidence_score, language_code, status, claimed_by, claimed_at, requires_native_speaker, created_at`

func (s *SQLiteStore) CreateQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	e.CreatedAt = time.Now().UTC()
	if e.Status == "" {
		e.Status = models.QueueStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ValidationResultID, e.Priority, e.ConfidenceScore, e.LanguageCode,
		string(e.Status), nullString(e.ClaimedBy), e.ClaimedAt,
		boolToInt(e.RequiresNativeSpeaker), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create queue entry: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanQueueEntry(scan func(dest ...any) error) (*models.QueueEntry, error) {
	e := &models.QueueEntry{}
	var status string
	var claimedBy sql.NullString
	var claimedAt sql.NullTime

	if err := scan(&e.ID, &e.ValidationResultID, &e.Priority, &e.ConfidenceScore,
		&e.LanguageCode, &status, &claimedBy, &claimedAt,
		&e.RequiresNativeSpeaker, &e.CreatedAt); err != nil {
		return nil, err
	}

	e.Status = models.QueueStatus(status)
	if claimedBy.Valid {
		e.ClaimedBy = claimedBy.String
	}
	if claimedAt.Valid {
		e.ClaimedAt = &claimedAt.Time
	}
	return e, nil
}

func (s *SQLiteStore) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM validation_queue WHERE id = ?`, id)
	e, err := scanQueueEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListQueueEntries(ctx context.Context, filter QueueFilter) ([]*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM validation_queue`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.LanguageCode != "" {
		conditions = append(conditions, "language_code = ?")
		args = append(args, filter.LanguageCode)
	}
	if filter.ClaimedBy != "" {
		conditions = append(conditions, "claimed_by = ?")
		args = append(args, filter.ClaimedBy)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.scanQueueEntries(ctx, query, args...)
}

// PendingQueueEntries returns the next work items in review order: priority
// descending, then strict FIFO within a priority band. It does not claim.
func (s *SQLiteStore) PendingQueueEntries(ctx context.Context, limit int) ([]*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM validation_queue
		WHERE status = 'pending' ORDER BY priority DESC, created_at ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.scanQueueEntries(ctx, query, args...)
}

func (s *SQLiteStore) scanQueueEntries(ctx context.Context, query string, args ...any) ([]*models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClaimQueueEntry transitions an entry pending → claimed as a single
// conditional update. Concurrent claims on the same entry produce exactly
// one winner; losers get ErrClaimConflict and should try the next entry.
func (s *SQLiteStore) ClaimQueueEntry(ctx context.Context, id, validatorID string, now time.Time) (*models.QueueEntry, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE validation_queue SET status='claimed', claimed_by=?, claimed_at=?
		WHERE id=? AND status='pending'`,
		validatorID, now.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Distinguish a lost race from a bad id.
		if _, err := s.GetQueueEntry(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("queue entry %s: %w", id, ErrClaimConflict)
	}
	return s.GetQueueEntry(ctx, id)
}

// CompleteQueueEntry marks an entry completed. The entry must be claimed by
// the calling validator.
func (s *SQLiteStore) CompleteQueueEntry(ctx context.Context, id, validatorID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE validation_queue SET status='completed'
		WHERE id=? AND status='claimed' AND claimed_by=?`,
		id, validatorID,
	)
	if err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetQueueEntry(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("queue entry %s: %w", id, ErrNotClaimOwner)
	}
	return nil
}

// ReleaseQueueEntry resets a claimed entry back to pending regardless of
// who holds the claim. Releasing an already-pending entry is a no-op;
// completed entries are terminal.
func (s *SQLiteStore) ReleaseQueueEntry(ctx context.Context, id string) error {
	e, err := s.GetQueueEntry(ctx, id)
	if err != nil {
		return err
	}
	switch e.Status {
	case models.QueueStatusPending:
		return nil
	case models.QueueStatusCompleted:
		return fmt.Errorf("queue entry %s is completed and cannot be released", id)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE validation_queue SET status='pending', claimed_by=NULL, claimed_at=NULL
		WHERE id=? AND status='claimed'`, id,
	)
	if err != nil {
		return fmt.Errorf("release queue entry: %w", err)
	}
	return nil
}

// ExpiredClaims returns claimed entries whose claim predates the cutoff.
func (s *SQLiteStore) ExpiredClaims(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error) {
	return s.scanQueueEntries(ctx,
		`SELECT `+queueColumns+` FROM validation_queue
		WHERE status = 'claimed' AND claimed_at < ?
		ORDER BY claimed_at ASC`, cutoff.UTC())
}

// ReleaseExpiredClaim releases an entry only if it is still claimed with the
// same claimed_at the sweep observed. A concurrent sweep (or a re-claim
// after another sweep's release) makes this a no-op, so sweeps are safe to
// run concurrently.
func (s *SQLiteStore) ReleaseExpiredClaim(ctx context.Context, id string, claimedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE validation_queue SET status='pending', claimed_by=NULL, claimed_at=NULL
		WHERE id=? AND status='claimed' AND claimed_at=?`,
		id, claimedAt,
	)
	if err != nil {
		return false, fmt.Errorf("release expired claim: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// --- Human Validations ---

func (s *SQLiteStore) CreateHumanValidation(ctx context.Context, v *models.HumanValidation) error {
	if v.ID == "" {
		v.ID = newULID()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO human_validations (id, validation_result_id, validator_id, decision, feedback, time_spent_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ValidationResultID, v.ValidatorID, string(v.Decision),
		v.Feedback, int64(v.TimeSpent.Seconds()), v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create human validation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListHumanValidations(ctx context.Context, validationResultID string) ([]*models.HumanValidation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, validation_result_id, validator_id, decision, feedback, time_spent_seconds, created_at
		FROM human_validations WHERE validation_result_id = ? ORDER BY created_at ASC`, validationResultID)
	if err != nil {
		return nil, fmt.Errorf("list human validations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var validations []*models.HumanValidation
	for rows.Next() {
		v := &models.HumanValidation{}
		var decision string
		var seconds int64
		if err := rows.Scan(&v.ID, &v.ValidationResultID, &v.ValidatorID, &decision,
			&v.Feedback, &seconds, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan human validation: %w", err)
		}
		v.Decision = models.Decision(decision)
		v.TimeSpent = time.Duration(seconds) * time.Second
		validations = append(validations, v)
	}
	return validations, rows.Err()
}

// --- Regressions ---

const regressionColumns = `id, script_id, category, severity, status, detection_date, last_seen_date, occurrence_count, details, linked_defect_id, resolved_by, resolution_note, resolved_at`

func (s *SQLiteStore) CreateRegression(ctx context.Context, r *models.Regression) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	if r.DetectionDate.IsZero() {
		r.DetectionDate = now
	}
	if r.LastSeenDate.IsZero() {
		r.LastSeenDate = r.DetectionDate
	}
	if r.Status == "" {
		r.Status = models.RegressionStatusActive
	}
	if r.OccurrenceCount == 0 {
		r.OccurrenceCount = 1
	}

	detailsJSON, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("marshal regression details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO regressions (`+regressionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScriptID, string(r.Category), string(r.Severity), string(r.Status),
		r.DetectionDate, r.LastSeenDate, r.OccurrenceCount, string(detailsJSON),
		nullString(r.LinkedDefectID), r.ResolvedBy, r.ResolutionNote, r.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("create regression: %w", err)
	}
	return nil
}

func scanRegression(scan func(dest ...any) error) (*models.Regression, error) {
	r := &models.Regression{}
	var category, severity, status, detailsJSON string
	var linkedDefect sql.NullString
	var resolvedAt sql.NullTime

	if err := scan(&r.ID, &r.ScriptID, &category, &severity, &status,
		&r.DetectionDate, &r.LastSeenDate, &r.OccurrenceCount, &detailsJSON,
		&linkedDefect, &r.ResolvedBy, &r.ResolutionNote, &resolvedAt); err != nil {
		return nil, err
	}

	r.Category = models.RegressionCategory(category)
	r.Severity = models.RegressionSeverity(severity)
	r.Status = models.RegressionStatus(status)
	if err := json.Unmarshal([]byte(detailsJSON), &r.Details); err != nil {
		return nil, fmt.Errorf("unmarshal regression details: %w", err)
	}
	if linkedDefect.Valid {
		r.LinkedDefectID = linkedDefect.String
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return r, nil
}

func (s *SQLiteStore) GetRegression(ctx context.Context, id string) (*models.Regression, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+regressionColumns+` FROM regressions WHERE id = ?`, id)
	r, err := scanRegression(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("regression %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get regression: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) FindActiveRegression(ctx context.Context, scriptID string, category models.RegressionCategory) (*models.Regression, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+regressionColumns+` FROM regressions
		WHERE script_id = ? AND category = ? AND status = 'active'`,
		scriptID, string(category))
	r, err := scanRegression(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active regression for %s/%s: %w", scriptID, category, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find active regression: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRegressions(ctx context.Context, filter RegressionFilter) ([]*models.Regression, error) {
	query := `SELECT ` + regressionColumns + ` FROM regressions`
	var conditions []string
	var args []any

	if filter.ScriptID != "" {
		conditions = append(conditions, "script_id = ?")
		args = append(args, filter.ScriptID)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY
		CASE status WHEN 'active' THEN 0 ELSE 1 END,
		CASE severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END,
		last_seen_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list regressions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var regressions []*models.Regression
	for rows.Next() {
		r, err := scanRegression(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan regression: %w", err)
		}
		regressions = append(regressions, r)
	}
	return regressions, rows.Err()
}

// TouchRegression records a repeat detection on an active regression:
// occurrence count increments, last seen advances, details are overwritten
// with the latest payload.
func (s *SQLiteStore) TouchRegression(ctx context.Context, id string, details models.RegressionDetails, lastSeen time.Time) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal regression details: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE regressions SET occurrence_count = occurrence_count + 1, last_seen_date = ?, details = ?
		WHERE id = ? AND status = 'active'`,
		lastSeen.UTC(), string(detailsJSON), id,
	)
	if err != nil {
		return fmt.Errorf("touch regression: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("active regression %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResolveRegression flips an active regression to resolved. Conditional on
// the row still being active, so double-resolution is surfaced as not-found.
func (s *SQLiteStore) ResolveRegression(ctx context.Context, id, resolvedBy, note string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE regressions SET status='resolved', resolved_by=?, resolution_note=?, resolved_at=?
		WHERE id=? AND status='active'`,
		resolvedBy, note, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("resolve regression: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("active regression %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) LinkDefect(ctx context.Context, regressionID, defectID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE regressions SET linked_defect_id = ? WHERE id = ?", defectID, regressionID)
	if err != nil {
		return fmt.Errorf("link defect: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("regression %s: %w", regressionID, ErrNotFound)
	}
	return nil
}

// --- Defects ---

func (s *SQLiteStore) CreateDefect(ctx context.Context, d *models.Defect) error {
	if d.ID == "" {
		d.ID = newULID()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO defects (id, regression_id, title, description, severity, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RegressionID, d.Title, d.Description, string(d.Severity), d.CreatedBy, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create defect: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDefect(ctx context.Context, id string) (*models.Defect, error) {
	d := &models.Defect{}
	var severity string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, regression_id, title, description, severity, created_by, created_at
		FROM defects WHERE id = ?`, id,
	).Scan(&d.ID, &d.RegressionID, &d.Title, &d.Description, &severity, &d.CreatedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("defect %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get defect: %w", err)
	}

	d.Severity = models.RegressionSeverity(severity)
	return d, nil
}
