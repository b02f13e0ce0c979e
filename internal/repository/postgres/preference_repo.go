package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.PreferenceRepo = (*PreferenceRepo)(nil)

type PreferenceRepo struct{ db *DB }

func NewPreferenceRepo(db *DB) *PreferenceRepo { return &PreferenceRepo{db: db} }

const (
	qPrefGet = `
SELECT user_id::text, type, in_app_enabled, email_enabled, updated_at
FROM notification_preferences
WHERE user_id = $1::uuid AND type = $2;`

	qPrefList = `
SELECT user_id::text, type, in_app_enabled, email_enabled, updated_at
FROM notification_preferences
WHERE user_id = $1::uuid
ORDER BY type;`

	// Fields absent from the patch keep their stored value, or false when
	// the row is created by this statement.
	qPrefUpsert = `
INSERT INTO notification_preferences (user_id, type, in_app_enabled, email_enabled, updated_at)
VALUES ($1::uuid, $2, COALESCE($3::boolean, FALSE), COALESCE($4::boolean, FALSE), now())
ON CONFLICT (user_id, type) DO UPDATE
SET in_app_enabled = COALESCE($3::boolean, notification_preferences.in_app_enabled),
    email_enabled  = COALESCE($4::boolean, notification_preferences.email_enabled),
    updated_at     = now();`

	qPrefSeed = `
INSERT INTO notification_preferences (user_id, type, in_app_enabled, email_enabled, updated_at)
SELECT $1::uuid, t.type, t.in_app, t.email, now()
FROM unnest($2::text[], $3::boolean[], $4::boolean[]) AS t(type, in_app, email)
ON CONFLICT (user_id, type) DO NOTHING;`
)

func (r *PreferenceRepo) Get(ctx context.Context, userID string, t notification.Type) (*notification.Preference, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p notification.Preference
	if err := scanPreference(r.db.execQueryer(ctx).QueryRow(ctx, qPrefGet, userID, string(t)), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (r *PreferenceRepo) List(ctx context.Context, userID string) ([]notification.Preference, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qPrefList, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []notification.Preference
	for rows.Next() {
		var p notification.Preference
		if err := scanPreference(rows, &p); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PreferenceRepo) Update(ctx context.Context, userID string, t notification.Type, patch notification.PreferencePatch) error {
	if patch.Empty() {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qPrefUpsert, userID, string(t), patch.InAppEnabled, patch.EmailEnabled); err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	return nil
}

func (r *PreferenceRepo) Seed(ctx context.Context, userID string) error {
	defaults := notification.DefaultPreferences(userID)
	types := make([]string, len(defaults))
	inApp := make([]bool, len(defaults))
	email := make([]bool, len(defaults))
	for i, p := range defaults {
		types[i] = string(p.Type)
		inApp[i] = p.InAppEnabled
		email[i] = p.EmailEnabled
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qPrefSeed, userID, types, inApp, email); err != nil {
		return fmt.Errorf("seed preferences: %w", err)
	}
	return nil
}

func scanPreference(row pgx.Row, p *notification.Preference) error {
	var typ string
	if err := row.Scan(&p.UserID, &typ, &p.InAppEnabled, &p.EmailEnabled, &p.UpdatedAt); err != nil {
		return err
	}
	p.Type = notification.Type(typ)
	return nil
}
