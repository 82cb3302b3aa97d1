package entree

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-entree/cache"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileRegistry serves site properties and profile data through a cache
// rebuilt on demand and invalidated on every write.
type ProfileRegistry struct {
	repo   RepositoryManager
	props  *cache.Store[int64, []*SiteProperty]
	data   *cache.Store[string, map[string]any]
	logger Logger
}

// NewProfileRegistry creates a registry, ttl of zero uses cache.DefaultTTL
func NewProfileRegistry(repo RepositoryManager, ttl time.Duration) *ProfileRegistry {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &ProfileRegistry{
		repo:   repo,
		props:  cache.New[int64, []*SiteProperty](ttl),
		data:   cache.New[string, map[string]any](ttl),
		logger: defLogger{},
	}
}

func (r *ProfileRegistry) WithLogger(l Logger) *ProfileRegistry {
	if l != nil {
		r.logger = l
	}
	return r
}

func profileKey(identityID uuid.UUID, siteID int64) string {
	return fmt.Sprintf("%s:%d", identityID, siteID)
}

// SiteProperties lists the properties of siteID. With cascade resident
// properties are appended for regular sites.
func (r *ProfileRegistry) SiteProperties(ctx context.Context, siteID int64, cascade bool) ([]*SiteProperty, error) {
	props, err := r.props.GetOrLoad(siteID, func() ([]*SiteProperty, error) {
		return r.repo.Properties().ListForSite(ctx, siteID)
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list site properties")
	}

	out := append([]*SiteProperty{}, props...)
	if !cascade || siteID == ResidentSite {
		return out, nil
	}

	resident, err := r.SiteProperties(ctx, ResidentSite, false)
	if err != nil {
		return nil, err
	}
	return append(out, resident...), nil
}

// Property finds a property by slug on siteID, falling back to resident
func (r *ProfileRegistry) Property(ctx context.Context, siteID int64, slug string) (*SiteProperty, error) {
	props, err := r.SiteProperties(ctx, siteID, true)
	if err != nil {
		return nil, err
	}
	for _, prop := range props {
		if prop.Slug == slug {
			return prop, nil
		}
	}
	return nil, goerrors.New("unknown property", goerrors.CategoryNotFound).
		WithTextCode(TextCodeUnknownProperty).
		WithMetadata(map[string]any{"slug": slug, "site_id": siteID})
}

// GetData returns the profile data of identity for siteID, creating an
// inactive SiteProfile on first access. Inactive profiles only report
// is_active unless overrideInactive is set.
func (r *ProfileRegistry) GetData(ctx context.Context, identity *Identity, siteID int64, cascade, overrideInactive bool) (map[string]any, error) {
	var profile *SiteProfile
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		profile, _, err = r.repo.Profiles().GetOrCreateTx(ctx, tx, identity.ID, siteID, false)
		return err
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load site profile")
	}

	if !profile.IsActive && !overrideInactive {
		return map[string]any{"is_active": false}, nil
	}

	out := map[string]any{}
	if cascade && siteID != ResidentSite {
		resident, err := r.siteData(ctx, identity.ID, ResidentSite)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, resident)
	}

	data, err := r.siteData(ctx, identity.ID, siteID)
	if err != nil {
		return nil, err
	}
	maps.Copy(out, data)
	out["is_active"] = profile.IsActive

	return out, nil
}

// siteData returns a copy of the cached slug to value map
func (r *ProfileRegistry) siteData(ctx context.Context, identityID uuid.UUID, siteID int64) (map[string]any, error) {
	data, err := r.data.GetOrLoad(profileKey(identityID, siteID), func() (map[string]any, error) {
		return r.loadSiteData(ctx, identityID, siteID)
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(data), nil
}

func (r *ProfileRegistry) loadSiteData(ctx context.Context, identityID uuid.UUID, siteID int64) (map[string]any, error) {
	props, err := r.SiteProperties(ctx, siteID, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(props))
	if len(props) == 0 {
		return out, nil
	}

	bySlug := map[int64]string{}
	var plain, unique []int64
	for _, prop := range props {
		out[prop.Slug] = ""
		bySlug[prop.ID] = prop.Slug
		if prop.IsUnique {
			unique = append(unique, prop.ID)
		} else {
			plain = append(plain, prop.ID)
		}
	}

	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rows, err := r.repo.Profiles().ListDataTx(ctx, tx, identityID, plain)
		if err != nil {
			return err
		}
		for _, row := range rows {
			out[bySlug[row.PropertyID]] = row.Value()
		}

		urows, err := r.repo.Profiles().ListUniqueDataTx(ctx, tx, identityID, unique)
		if err != nil {
			return err
		}
		for _, row := range urows {
			out[bySlug[row.PropertyID]] = row.Value()
		}
		return nil
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile data")
	}

	return out, nil
}

// SetValue stores a single value and invalidates the cached profile
func (r *ProfileRegistry) SetValue(ctx context.Context, identity *Identity, prop *SiteProperty, value any) error {
	defer r.data.Delete(profileKey(identity.ID, prop.SiteID))

	return r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.repo.Profiles().SetValueTx(ctx, tx, identity.ID, prop, value)
	})
}

// Activate marks the profile of identity at siteID active
func (r *ProfileRegistry) Activate(ctx context.Context, identity *Identity, siteID int64) (bool, error) {
	var changed bool
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		profile, created, err := r.repo.Profiles().GetOrCreateTx(ctx, tx, identity.ID, siteID, true)
		if err != nil {
			return err
		}
		if created {
			changed = true
			return nil
		}
		if profile.IsActive {
			return nil
		}
		changed = true
		return r.repo.Profiles().SetActiveTx(ctx, tx, profile, true)
	})
	r.Invalidate(identity.ID, siteID)
	return changed, err
}

// IsActive reports whether identity holds an active profile at siteID
func (r *ProfileRegistry) IsActive(ctx context.Context, identity *Identity, siteID int64) (bool, error) {
	var active bool
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		profile, err := r.repo.Profiles().GetTx(ctx, tx, identity.ID, siteID)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		active = profile.IsActive
		return nil
	})
	return active, err
}

// CreateProperty stores a new property definition
func (r *ProfileRegistry) CreateProperty(ctx context.Context, prop *SiteProperty) (*SiteProperty, error) {
	if !IsValidPropertyType(prop.ValueType) && prop.ValueType != "" {
		return nil, goerrors.New("unknown property type", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidPropertyType).
			WithMetadata(map[string]any{"value_type": prop.ValueType})
	}

	if prop.IsUnique && prop.ValueType == PropertyBoolean {
		return nil, goerrors.New("boolean properties can not be unique", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidPropertyType)
	}

	var out *SiteProperty
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if !prop.IsResident() {
			if _, err := r.repo.Sites().GetByIDTx(ctx, tx, prop.SiteID); err != nil {
				return err
			}
		}

		var err error
		out, err = r.repo.Properties().CreateTx(ctx, tx, prop)
		return err
	})
	r.InvalidateSite(prop.SiteID)
	return out, err
}

// DeleteProperty removes a property and every value stored for it
func (r *ProfileRegistry) DeleteProperty(ctx context.Context, siteID int64, slug string) error {
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		prop, err := r.repo.Properties().GetBySlugTx(ctx, tx, siteID, slug)
		if err != nil {
			if isNoRows(err) {
				return goerrors.New("unknown property", goerrors.CategoryNotFound).
					WithTextCode(TextCodeUnknownProperty).
					WithMetadata(map[string]any{"slug": slug, "site_id": siteID})
			}
			return err
		}
		return r.repo.Properties().DeleteTx(ctx, tx, prop)
	})
	r.InvalidateSite(siteID)
	return err
}

// Invalidate drops the cached profile of identity at siteID
func (r *ProfileRegistry) Invalidate(identityID uuid.UUID, siteID int64) {
	r.data.Delete(profileKey(identityID, siteID))
}

// InvalidateSite drops the cached properties of siteID and every cached
// profile that may carry them. Resident changes affect every site.
func (r *ProfileRegistry) InvalidateSite(siteID int64) {
	r.props.Delete(siteID)
	if siteID == ResidentSite {
		r.data.Clear()
		return
	}
	suffix := fmt.Sprintf(":%d", siteID)
	r.data.DeleteFunc(func(key string) bool {
		return strings.HasSuffix(key, suffix)
	})
}
