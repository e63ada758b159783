package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const itemColumns = `id, campaign_id, content_fingerprint, source_type, item_id, title, excerpt,
	body, canonical_url, published_at, author, media_urls, categories, raw_metadata, priority,
	status, retry_count, last_error_kind, last_error_message, discovered_at, not_before,
	processing_started_at, processed_at, result_reference`

// PostgresQueue is the durable work queue. Leasing uses FOR UPDATE SKIP
// LOCKED so concurrent trigger firings never claim the same row, and all
// transitions are conditional updates guarded on the current status.
type PostgresQueue struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

var _ ports.WorkQueue = (*PostgresQueue)(nil)

// NewPostgresQueue wires a sql.DB implementation.
func NewPostgresQueue(db *sql.DB, opts Options) *PostgresQueue {
	return &PostgresQueue{db: db, opts: opts.withDefaults(), now: time.Now}
}

// EnsureSchema creates the queue table when it does not exist.
func (q *PostgresQueue) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// Enqueue inserts the item or resolves it against the record already holding
// its (campaign_id, content_fingerprint).
func (q *PostgresQueue) Enqueue(ctx context.Context, item domain.DiscoveredItem) (domain.EnqueueOutcome, error) {
	metadata, err := json.Marshal(orEmptyMap(item.RawMetadata))
	if err != nil {
		return "", fmt.Errorf("marshal raw metadata: %w", err)
	}

	insert := psql.Insert("queue_items").
		Columns("id", "campaign_id", "content_fingerprint", "source_type", "item_id",
			"title", "excerpt", "body", "canonical_url", "published_at", "author",
			"media_urls", "categories", "raw_metadata", "priority", "status", "discovered_at", "not_before").
		Values(uuid.NewString(), item.CampaignID, item.ContentFingerprint, string(item.SourceType), item.ItemID,
			item.Title, item.Excerpt, item.Body, item.CanonicalURL, nullTime(item.PublishedAt), item.Author,
			pq.Array(orEmptySlice(item.MediaURLs)), pq.Array(orEmptySlice(item.Categories)), metadata,
			item.Priority, string(domain.StatusPending), q.now(), q.now())

	query, args, err := insert.ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert: %w", err)
	}

	if _, err = q.db.ExecContext(ctx, query, args...); err == nil {
		return domain.OutcomeInserted, nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return "", fmt.Errorf("insert queue item: %w", err)
	}

	// Duplicate discovery: refresh metadata in place only while the
	// existing record is still pending, raising priority when strictly
	// higher. Terminal and in-flight records are left alone.
	update := psql.Update("queue_items").
		Set("raw_metadata", metadata).
		Set("priority", sq.Expr("GREATEST(priority, ?)", item.Priority)).
		Where(sq.Eq{
			"campaign_id":         item.CampaignID,
			"content_fingerprint": item.ContentFingerprint,
			"status":              string(domain.StatusPending),
		})

	query, args, err = update.ToSql()
	if err != nil {
		return "", fmt.Errorf("build dedup update: %w", err)
	}

	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("update duplicate: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("duplicate rows affected: %w", err)
	}
	if affected > 0 {
		return domain.OutcomeDuplicateUpdated, nil
	}
	return domain.OutcomeDuplicateIgnored, nil
}

// LeaseNext atomically claims up to maxBatch pending items of the campaign.
func (q *PostgresQueue) LeaseNext(ctx context.Context, campaignID string, maxBatch int) ([]domain.QueueItem, error) {
	if maxBatch <= 0 {
		return nil, nil
	}

	now := q.now()
	lease := fmt.Sprintf(`
		UPDATE queue_items SET status = $1, processing_started_at = $2
		WHERE id IN (
			SELECT id FROM queue_items
			WHERE campaign_id = $3 AND status = $4 AND not_before <= $5
			ORDER BY priority DESC, discovered_at ASC
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, itemColumns)

	rows, err := q.db.QueryContext(ctx, lease,
		string(domain.StatusProcessing), now, campaignID, string(domain.StatusPending), now, maxBatch)
	if err != nil {
		return nil, fmt.Errorf("lease queue items: %w", err)
	}
	defer rows.Close()

	var leased []domain.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		leased = append(leased, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lease rows: %w", err)
	}

	// RETURNING does not guarantee ordering; restore the lease order.
	sort.Slice(leased, func(i, j int) bool {
		if leased[i].Item.Priority != leased[j].Item.Priority {
			return leased[i].Item.Priority > leased[j].Item.Priority
		}
		return leased[i].DiscoveredAt.Before(leased[j].DiscoveredAt)
	})
	return leased, nil
}

// ReclaimStalled rescues items whose lease outlived the TTL.
func (q *PostgresQueue) ReclaimStalled(ctx context.Context, leaseTTL time.Duration) (int, error) {
	cutoff := q.now().Add(-leaseTTL)

	exhaust := psql.Update("queue_items").
		Set("status", string(domain.StatusFailed)).
		Set("last_error_kind", string(domain.ErrKindLeaseExpiredMax)).
		Set("processed_at", q.now()).
		Where(sq.Eq{"status": string(domain.StatusProcessing)}).
		Where(sq.Lt{"processing_started_at": cutoff}).
		Where(sq.GtOrEq{"retry_count": q.opts.MaxRetries})

	exhausted, err := q.execCount(ctx, exhaust)
	if err != nil {
		return 0, fmt.Errorf("fail exhausted leases: %w", err)
	}

	requeue := psql.Update("queue_items").
		Set("status", string(domain.StatusPending)).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error_kind", string(domain.ErrKindLeaseExpired)).
		Set("processing_started_at", nil).
		Where(sq.Eq{"status": string(domain.StatusProcessing)}).
		Where(sq.Lt{"processing_started_at": cutoff})

	requeued, err := q.execCount(ctx, requeue)
	if err != nil {
		return 0, fmt.Errorf("requeue stalled leases: %w", err)
	}

	return exhausted + requeued, nil
}

// Complete marks the item completed; terminal rows are never overwritten.
func (q *PostgresQueue) Complete(ctx context.Context, itemID, resultReference string) error {
	update := psql.Update("queue_items").
		Set("status", string(domain.StatusCompleted)).
		Set("result_reference", resultReference).
		Set("processed_at", q.now()).
		Where(sq.Eq{"id": itemID}).
		Where(sq.NotEq{"status": terminalStatuses()})

	affected, err := q.execCount(ctx, update)
	if err != nil {
		return fmt.Errorf("complete queue item: %w", err)
	}
	if affected == 0 {
		return q.transitionError(ctx, itemID)
	}
	return nil
}

// Fail records the failure, requeueing behind a backoff marker when the
// failure is retryable and the retry budget has room. The returned flag
// reports whether the item ended terminal.
func (q *PostgresQueue) Fail(ctx context.Context, itemID string, kind domain.ErrorKind, message string, retryable bool) (bool, error) {
	if retryable {
		// The backoff delay depends on the incremented retry count, so
		// compute it in SQL from the current row.
		requeue := fmt.Sprintf(`
			UPDATE queue_items
			SET status = $1, retry_count = retry_count + 1,
			    last_error_kind = $2, last_error_message = $3,
			    not_before = $4::timestamptz + ($5::bigint * (1 << retry_count)) * interval '1 microsecond',
			    processing_started_at = NULL
			WHERE id = $6 AND status NOT IN (%s) AND retry_count < $7`, terminalStatusList())

		result, err := q.db.ExecContext(ctx, requeue,
			string(domain.StatusPending), string(kind), message,
			q.now(), q.opts.BackoffBase.Microseconds(), itemID, q.opts.MaxRetries)
		if err != nil {
			return false, fmt.Errorf("requeue failed item: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("requeue rows affected: %w", err)
		}
		if affected > 0 {
			return false, nil
		}
		// Retry budget exhausted (or already terminal): fall through.
	}

	update := psql.Update("queue_items").
		Set("status", string(domain.StatusFailed)).
		Set("last_error_kind", string(kind)).
		Set("last_error_message", message).
		Set("processed_at", q.now()).
		Where(sq.Eq{"id": itemID}).
		Where(sq.NotEq{"status": terminalStatuses()})

	affected, err := q.execCount(ctx, update)
	if err != nil {
		return false, fmt.Errorf("fail queue item: %w", err)
	}
	if affected == 0 {
		return false, q.transitionError(ctx, itemID)
	}
	return true, nil
}

// CountPending reports the campaign's backlog for the observability views.
func (q *PostgresQueue) CountPending(ctx context.Context, campaignID string) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("queue_items").
		Where(sq.Eq{"campaign_id": campaignID, "status": string(domain.StatusPending)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build pending count: %w", err)
	}

	var count int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func (q *PostgresQueue) execCount(ctx context.Context, builder sq.UpdateBuilder) (int, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// transitionError distinguishes unknown ids from terminal-state rejections.
func (q *PostgresQueue) transitionError(ctx context.Context, itemID string) error {
	query, args, err := psql.Select("status").From("queue_items").Where(sq.Eq{"id": itemID}).ToSql()
	if err != nil {
		return fmt.Errorf("build status lookup: %w", err)
	}

	var status string
	switch err := q.db.QueryRowContext(ctx, query, args...).Scan(&status); {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrItemNotFound
	case err != nil:
		return fmt.Errorf("lookup item status: %w", err)
	default:
		return domain.ErrTerminalState
	}
}

func scanItem(rows *sql.Rows) (domain.QueueItem, error) {
	var (
		item        domain.QueueItem
		sourceType  string
		status      string
		errorKind   string
		publishedAt sql.NullTime
		startedAt   sql.NullTime
		processedAt sql.NullTime
		mediaURLs   pq.StringArray
		categories  pq.StringArray
		metadata    []byte
	)

	err := rows.Scan(&item.ID, &item.Item.CampaignID, &item.Item.ContentFingerprint, &sourceType,
		&item.Item.ItemID, &item.Item.Title, &item.Item.Excerpt, &item.Item.Body,
		&item.Item.CanonicalURL, &publishedAt, &item.Item.Author, &mediaURLs, &categories,
		&metadata, &item.Item.Priority, &status, &item.RetryCount, &errorKind,
		&item.LastErrorMessage, &item.DiscoveredAt, &item.NotBefore, &startedAt, &processedAt,
		&item.ResultReference)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("scan queue item: %w", err)
	}

	item.Item.SourceType = domain.SourceType(sourceType)
	item.Status = domain.Status(status)
	item.LastErrorKind = domain.ErrorKind(errorKind)
	item.Item.MediaURLs = mediaURLs
	item.Item.Categories = categories
	if publishedAt.Valid {
		item.Item.PublishedAt = publishedAt.Time
	}
	if startedAt.Valid {
		item.ProcessingStartedAt = startedAt.Time
	}
	if processedAt.Valid {
		item.ProcessedAt = processedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Item.RawMetadata); err != nil {
			return domain.QueueItem{}, fmt.Errorf("unmarshal raw metadata: %w", err)
		}
	}
	return item, nil
}

func terminalStatuses() []string {
	return []string{
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
		string(domain.StatusSkipped),
	}
}

func terminalStatusList() string {
	return "'completed', 'failed', 'skipped'"
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
