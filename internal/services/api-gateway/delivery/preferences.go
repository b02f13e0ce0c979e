package delivery

import (
	"context"
	"fmt"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/obs"
	"go.uber.org/zap"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Invalidator drops cached preference rows. A repo that caches reads
// implements it so UpdateMany can evict again once its transaction commits.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string, types ...notification.Type)
}

// PreferenceService is the read/write surface over the preference store.
type PreferenceService struct {
	repo notification.PreferenceRepo
	tx   Transactor
	log  *zap.Logger
}

func NewPreferenceService(repo notification.PreferenceRepo, tx Transactor, log *zap.Logger) *PreferenceService {
	return &PreferenceService{repo: repo, tx: tx, log: obs.Component(log, "preferences")}
}

// Get returns nil when the user has no row for t.
func (p *PreferenceService) Get(ctx context.Context, userID string, t notification.Type) (*notification.Preference, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", notification.ErrInvalidType, t)
	}
	return p.repo.Get(ctx, userID, t)
}

func (p *PreferenceService) List(ctx context.Context, userID string) ([]notification.Preference, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	out, err := p.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []notification.Preference{}
	}
	return out, nil
}

// Update writes only the fields set in patch and returns the stored row.
// An empty patch changes nothing.
func (p *PreferenceService) Update(ctx context.Context, userID string, t notification.Type, patch notification.PreferencePatch) (*notification.Preference, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", notification.ErrInvalidType, t)
	}
	if err := p.repo.Update(ctx, userID, t, patch); err != nil {
		p.log.Error("update preference failed", zap.String("user_id", userID), zap.String("type", string(t)), zap.Error(err))
		return nil, err
	}
	return p.repo.Get(ctx, userID, t)
}

// UpdateMany applies several patches atomically.
func (p *PreferenceService) UpdateMany(ctx context.Context, userID string, patches map[notification.Type]notification.PreferencePatch) ([]notification.Preference, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	for t := range patches {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", notification.ErrInvalidType, t)
		}
	}

	var touched []notification.Type
	apply := func(ctx context.Context) error {
		touched = touched[:0]
		for _, t := range notification.Types {
			patch, ok := patches[t]
			if !ok {
				continue
			}
			if err := p.repo.Update(ctx, userID, t, patch); err != nil {
				return fmt.Errorf("update %s: %w", t, err)
			}
			touched = append(touched, t)
		}
		return nil
	}

	var err error
	if p.tx != nil {
		err = p.tx.WithTx(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		p.log.Error("update preferences failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	// Evictions done inside the transaction can be refilled with the old
	// rows by a concurrent read before commit.
	if inv, ok := p.repo.(Invalidator); ok && p.tx != nil && len(touched) > 0 {
		inv.Invalidate(ctx, userID, touched...)
	}
	return p.List(ctx, userID)
}

// Seed provisions the default rows for a newly registered user. Existing
// rows are left alone.
func (p *PreferenceService) Seed(ctx context.Context, userID string) ([]notification.Preference, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if err := p.repo.Seed(ctx, userID); err != nil {
		p.log.Error("seed preferences failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return p.List(ctx, userID)
}
