package entree

import (
	"context"
	"time"

	"github.com/goliatone/go-entree/cache"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Sites stores relying sites, reads by id and the default site are cached
type Sites interface {
	CreateTx(ctx context.Context, tx bun.IDB, site *EntreeSite) (*EntreeSite, error)
	UpdateTx(ctx context.Context, tx bun.IDB, site *EntreeSite) error
	GetByID(ctx context.Context, id int64) (*EntreeSite, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*EntreeSite, error)
	GetDefault(ctx context.Context) (*EntreeSite, error)
	SetDefaultTx(ctx context.Context, tx bun.IDB, id int64) error
	List(ctx context.Context) ([]*EntreeSite, error)
	ListActive(ctx context.Context) ([]*EntreeSite, error)
}

const defaultSiteKey int64 = -1

type sites struct {
	db    *bun.DB
	cache *cache.Store[int64, *EntreeSite]
}

var _ Sites = (*sites)(nil)

// NewSitesRepository creates the site store
func NewSitesRepository(db *bun.DB, ttl time.Duration) Sites {
	return &sites{
		db:    db,
		cache: cache.New[int64, *EntreeSite](ttl),
	}
}

func (r *sites) CreateTx(ctx context.Context, tx bun.IDB, site *EntreeSite) (*EntreeSite, error) {
	if site.IsDefault {
		if err := r.clearDefaultTx(ctx, tx); err != nil {
			return nil, err
		}
	}

	if _, err := tx.NewInsert().Model(site).Returning("id").Exec(ctx); err != nil {
		return nil, err
	}

	r.cache.Clear()
	return site, nil
}

func (r *sites) UpdateTx(ctx context.Context, tx bun.IDB, site *EntreeSite) error {
	if site.IsDefault {
		if err := r.clearDefaultTx(ctx, tx); err != nil {
			return err
		}
	}

	res, err := tx.NewUpdate().
		Model(site).
		Column("title", "url", "is_active", "secret", "is_default").
		WherePK().
		Exec(ctx)
	r.cache.Clear()
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSiteNotFound
	}
	return nil
}

func (r *sites) GetByID(ctx context.Context, id int64) (*EntreeSite, error) {
	return r.cache.GetOrLoad(id, func() (*EntreeSite, error) {
		return r.GetByIDTx(ctx, r.db, id)
	})
}

func (r *sites) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*EntreeSite, error) {
	site := &EntreeSite{}
	err := tx.NewSelect().Model(site).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	return site, nil
}

func (r *sites) GetDefault(ctx context.Context) (*EntreeSite, error) {
	return r.cache.GetOrLoad(defaultSiteKey, func() (*EntreeSite, error) {
		site := &EntreeSite{}
		err := r.db.NewSelect().Model(site).Where("?TableAlias.is_default = ?", true).Limit(1).Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return nil, ErrNoDefaultSite
			}
			return nil, err
		}
		return site, nil
	})
}

// SetDefaultTx makes id the only default site
func (r *sites) SetDefaultTx(ctx context.Context, tx bun.IDB, id int64) error {
	if _, err := r.GetByIDTx(ctx, tx, id); err != nil {
		return err
	}

	if err := r.clearDefaultTx(ctx, tx); err != nil {
		return err
	}

	_, err := tx.NewUpdate().
		Model((*EntreeSite)(nil)).
		Set("is_default = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	r.cache.Clear()
	return err
}

func (r *sites) List(ctx context.Context) ([]*EntreeSite, error) {
	var out []*EntreeSite
	if err := r.db.NewSelect().Model(&out).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActive returns the active sites, never the resident one
func (r *sites) ListActive(ctx context.Context) ([]*EntreeSite, error) {
	var out []*EntreeSite
	err := r.db.NewSelect().
		Model(&out).
		Where("is_active = ?", true).
		Where("id != ?", ResidentSite).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sites) clearDefaultTx(ctx context.Context, tx bun.IDB) error {
	_, err := tx.NewUpdate().
		Model((*EntreeSite)(nil)).
		Set("is_default = ?", false).
		Where("is_default = ?", true).
		Exec(ctx)
	return err
}

// IsSiteNotFound reports missing sites, either from this package or
// the generic repository
func IsSiteNotFound(err error) bool {
	return HasTextCode(err, TextCodeSiteNotFound) || repository.IsRecordNotFound(err)
}
