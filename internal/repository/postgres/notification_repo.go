package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const notifColumns = `id::text, user_id::text, type, title, message, metadata, read, email_sent, created_at, updated_at`

const (
	qNotifInsert = `
INSERT INTO notifications (id, user_id, type, title, message, metadata, read, email_sent, created_at, updated_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, FALSE, FALSE, COALESCE($7, now()), COALESCE($7, now()))
RETURNING created_at, updated_at;`

	qNotifGet = `
SELECT ` + notifColumns + `
FROM notifications
WHERE id = $1::uuid;`

	qNotifByUser = `
SELECT ` + notifColumns + `
FROM notifications
WHERE user_id = $1::uuid AND ($2::boolean = FALSE OR read = FALSE)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4;`

	qNotifCountByUser = `
SELECT count(*)
FROM notifications
WHERE user_id = $1::uuid AND ($2::boolean = FALSE OR read = FALSE);`

	qNotifMarkRead = `
UPDATE notifications
SET read = TRUE, updated_at = now()
WHERE id = $1::uuid AND user_id = $2::uuid AND read = FALSE
RETURNING ` + notifColumns + `;`

	qNotifMarkAllRead = `
UPDATE notifications
SET read = TRUE, updated_at = now()
WHERE user_id = $1::uuid AND read = FALSE;`

	qNotifUnread = `
SELECT count(*)
FROM notifications
WHERE user_id = $1::uuid AND read = FALSE;`

	qNotifEmailSent = `
UPDATE notifications
SET email_sent = TRUE, updated_at = now()
WHERE id = $1::uuid;`
)

func (r *NotificationRepoImpl) Insert(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifInsert,
		n.ID,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		meta,
		nullTime(n.CreatedAt),
	).Scan(&n.CreatedAt, &n.UpdatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Read = false
	n.EmailSent = false
	return nil
}

func (r *NotificationRepoImpl) Get(ctx context.Context, id string) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Notification
	if err := scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifGet, id), &n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepoImpl) ListByUser(ctx context.Context, userID string, opts notification.ListOptions) ([]notification.Notification, int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var total int
	if err := eq.QueryRow(ctx, qNotifCountByUser, userID, opts.UnreadOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := eq.Query(ctx, qNotifByUser, userID, opts.UnreadOnly, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Notification, 0, opts.Limit)
	for rows.Next() {
		var n notification.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	return out, total, nil
}

func (r *NotificationRepoImpl) MarkRead(ctx context.Context, id, userID string) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Notification
	if err := scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifMarkRead, id, userID), &n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepoImpl) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qNotifMarkAllRead, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepoImpl) UnreadCount(ctx context.Context, userID string) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifUnread, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

func (r *NotificationRepoImpl) MarkEmailSent(ctx context.Context, id string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qNotifEmailSent, id)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row, n *notification.Notification) error {
	var typ string
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Metadata,
		&n.Read, &n.EmailSent, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return err
	}
	n.Type = notification.Type(typ)
	return nil
}
