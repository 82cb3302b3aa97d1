package entree

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SiteProperties stores profile attribute definitions
type SiteProperties interface {
	CreateTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) (*SiteProperty, error)
	UpdateTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) error
	DeleteTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) error
	GetBySlugTx(ctx context.Context, tx bun.IDB, siteID int64, slug string) (*SiteProperty, error)
	ListForSite(ctx context.Context, siteID int64) ([]*SiteProperty, error)
}

// SiteProfiles stores site memberships and profile values
type SiteProfiles interface {
	GetOrCreateTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, siteID int64, active bool) (*SiteProfile, bool, error)
	GetTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, siteID int64) (*SiteProfile, error)
	SetActiveTx(ctx context.Context, tx bun.IDB, profile *SiteProfile, active bool) error
	ActiveSiteIDs(ctx context.Context, identityID uuid.UUID) ([]int64, error)

	ListDataTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, propIDs []int64) ([]*ProfileData, error)
	ListUniqueDataTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, propIDs []int64) ([]*ProfileDataUnique, error)
	SetValueTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, prop *SiteProperty, value any) error
}

type siteProperties struct {
	db *bun.DB
}

var _ SiteProperties = (*siteProperties)(nil)

// NewSitePropertiesRepository creates the property store
func NewSitePropertiesRepository(db *bun.DB) SiteProperties {
	return &siteProperties{db: db}
}

// CreateTx inserts a property. A site scoped slug may not shadow a
// resident one and a resident slug may not shadow any site scoped one.
func (r *siteProperties) CreateTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) (*SiteProperty, error) {
	if prop.ValueType == "" {
		prop.ValueType = PropertyString
	}

	if err := r.checkSlugTx(ctx, tx, prop); err != nil {
		return nil, err
	}

	if _, err := tx.NewInsert().Model(prop).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSiteSlug
		}
		return nil, err
	}
	return prop, nil
}

func (r *siteProperties) UpdateTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) error {
	if err := r.checkSlugTx(ctx, tx, prop); err != nil {
		return err
	}

	_, err := tx.NewUpdate().
		Model(prop).
		Column("name", "slug", "site_id", "value_type", "is_required", "is_unique").
		WherePK().
		Exec(ctx)
	if isUniqueViolation(err) {
		return ErrSiteSlug
	}
	return err
}

// DeleteTx removes a property along with every value stored for it
func (r *siteProperties) DeleteTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) error {
	var bigIDs []int64
	err := tx.NewSelect().
		Model((*ProfileData)(nil)).
		Column("value_big_id").
		Where("property_id = ?", prop.ID).
		Where("value_big_id IS NOT NULL").
		Scan(ctx, &bigIDs)
	if err != nil {
		return err
	}

	if _, err := tx.NewDelete().Model((*ProfileData)(nil)).Where("property_id = ?", prop.ID).Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewDelete().Model((*ProfileDataUnique)(nil)).Where("property_id = ?", prop.ID).Exec(ctx); err != nil {
		return err
	}

	if len(bigIDs) > 0 {
		if _, err := tx.NewDelete().Model((*ProfileBigData)(nil)).Where("id IN (?)", bun.In(bigIDs)).Exec(ctx); err != nil {
			return err
		}
	}

	_, err = tx.NewDelete().Model((*SiteProperty)(nil)).Where("id = ?", prop.ID).Exec(ctx)
	return err
}

func (r *siteProperties) GetBySlugTx(ctx context.Context, tx bun.IDB, siteID int64, slug string) (*SiteProperty, error) {
	prop := &SiteProperty{}
	err := tx.NewSelect().
		Model(prop).
		Where("?TableAlias.site_id = ?", siteID).
		Where("?TableAlias.slug = ?", slug).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return prop, nil
}

func (r *siteProperties) ListForSite(ctx context.Context, siteID int64) ([]*SiteProperty, error) {
	var props []*SiteProperty
	err := r.db.NewSelect().
		Model(&props).
		Where("site_id = ?", siteID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return props, nil
}

func (r *siteProperties) checkSlugTx(ctx context.Context, tx bun.IDB, prop *SiteProperty) error {
	q := tx.NewSelect().
		Model((*SiteProperty)(nil)).
		Where("slug = ?", prop.Slug).
		Where("id != ?", prop.ID)

	if prop.IsResident() {
		q = q.Where("site_id != ?", ResidentSite)
	} else {
		q = q.Where("site_id = ?", ResidentSite)
	}

	exists, err := q.Exists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		return nil
	}

	if prop.IsResident() {
		return ErrSiteSlug
	}
	return ErrResidentSlug
}

type siteProfiles struct {
	db *bun.DB
}

var _ SiteProfiles = (*siteProfiles)(nil)

// NewSiteProfilesRepository creates the profile store
func NewSiteProfilesRepository(db *bun.DB) SiteProfiles {
	return &siteProfiles{db: db}
}

func (r *siteProfiles) GetTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, siteID int64) (*SiteProfile, error) {
	profile := &SiteProfile{}
	err := tx.NewSelect().
		Model(profile).
		Where("?TableAlias.identity_id = ?", identityID).
		Where("?TableAlias.site_id = ?", siteID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetOrCreateTx returns the profile of identity at site, creating it with
// the given activation flag when missing.
func (r *siteProfiles) GetOrCreateTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, siteID int64, active bool) (*SiteProfile, bool, error) {
	profile, err := r.GetTx(ctx, tx, identityID, siteID)
	if err == nil {
		return profile, false, nil
	}

	if !isNoRows(err) {
		return nil, false, err
	}

	profile = &SiteProfile{
		IdentityID: identityID,
		SiteID:     siteID,
		IsActive:   active,
	}

	if _, err := tx.NewInsert().Model(profile).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			profile, err = r.GetTx(ctx, tx, identityID, siteID)
			return profile, false, err
		}
		return nil, false, err
	}

	return profile, true, nil
}

func (r *siteProfiles) SetActiveTx(ctx context.Context, tx bun.IDB, profile *SiteProfile, active bool) error {
	_, err := tx.NewUpdate().
		Model((*SiteProfile)(nil)).
		Set("is_active = ?", active).
		Where("id = ?", profile.ID).
		Exec(ctx)
	if err == nil {
		profile.IsActive = active
	}
	return err
}

func (r *siteProfiles) ActiveSiteIDs(ctx context.Context, identityID uuid.UUID) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*SiteProfile)(nil)).
		Column("site_id").
		Where("identity_id = ?", identityID).
		Where("is_active = ?", true).
		Where("site_id != ?", ResidentSite).
		Scan(ctx, &ids)
	return ids, err
}

func (r *siteProfiles) ListDataTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, propIDs []int64) ([]*ProfileData, error) {
	var out []*ProfileData
	if len(propIDs) == 0 {
		return out, nil
	}
	err := tx.NewSelect().
		Model(&out).
		Relation("Big").
		Where("?TableAlias.identity_id = ?", identityID).
		Where("?TableAlias.property_id IN (?)", bun.In(propIDs)).
		Scan(ctx)
	return out, err
}

func (r *siteProfiles) ListUniqueDataTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, propIDs []int64) ([]*ProfileDataUnique, error) {
	var out []*ProfileDataUnique
	if len(propIDs) == 0 {
		return out, nil
	}
	err := tx.NewSelect().
		Model(&out).
		Where("identity_id = ?", identityID).
		Where("property_id IN (?)", bun.In(propIDs)).
		Scan(ctx)
	return out, err
}

// SetValueTx upserts the value of prop for identity. Unique properties
// report ErrValueTaken when another identity holds the same value.
func (r *siteProfiles) SetValueTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, prop *SiteProperty, value any) error {
	if prop.IsUnique {
		return r.setUniqueValueTx(ctx, tx, identityID, prop, value)
	}
	return r.setValueTx(ctx, tx, identityID, prop, value)
}

func (r *siteProfiles) setValueTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, prop *SiteProperty, value any) error {
	record := &ProfileData{}
	err := tx.NewSelect().
		Model(record).
		Relation("Big").
		Where("?TableAlias.identity_id = ?", identityID).
		Where("?TableAlias.property_id = ?", prop.ID).
		Limit(1).
		Scan(ctx)

	exists := true
	if err != nil {
		if !isNoRows(err) {
			return err
		}
		exists = false
		record = &ProfileData{IdentityID: identityID, PropertyID: prop.ID}
	}

	record.ValueInt, record.ValueStr, record.ValueBool = nil, nil, nil

	switch prop.ValueType {
	case PropertyInteger:
		v, err := toInt64(value)
		if err != nil {
			return err
		}
		record.ValueInt = &v
	case PropertyBoolean:
		v, err := toBool(value)
		if err != nil {
			return err
		}
		record.ValueBool = &v
	default:
		v := toString(value)
		switch {
		case record.BigID != nil:
			// once a value overflowed it keeps living in big storage
			if _, err := tx.NewUpdate().
				Model((*ProfileBigData)(nil)).
				Set("value = ?", v).
				Where("id = ?", *record.BigID).
				Exec(ctx); err != nil {
				return err
			}
		case len(v) > ShortValueLength:
			big := &ProfileBigData{Value: v}
			if _, err := tx.NewInsert().Model(big).Returning("id").Exec(ctx); err != nil {
				return err
			}
			record.BigID = &big.ID
		default:
			record.ValueStr = &v
		}
	}

	if exists {
		_, err = tx.NewUpdate().
			Model(record).
			Column("value_int", "value_str", "value_bool", "value_big_id").
			WherePK().
			Exec(ctx)
		return err
	}

	_, err = tx.NewInsert().Model(record).Exec(ctx)
	return err
}

func (r *siteProfiles) setUniqueValueTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, prop *SiteProperty, value any) error {
	record := &ProfileDataUnique{}
	err := tx.NewSelect().
		Model(record).
		Where("identity_id = ?", identityID).
		Where("property_id = ?", prop.ID).
		Limit(1).
		Scan(ctx)

	exists := true
	if err != nil {
		if !isNoRows(err) {
			return err
		}
		exists = false
		record = &ProfileDataUnique{IdentityID: identityID, PropertyID: prop.ID}
	}

	record.ValueInt, record.ValueStr = nil, nil
	if prop.ValueType == PropertyInteger {
		v, err := toInt64(value)
		if err != nil {
			return err
		}
		record.ValueInt = &v
	} else if v := toString(value); v != "" {
		// blank values are stored as NULL
		record.ValueStr = &v
	}

	if exists {
		_, err = tx.NewUpdate().
			Model(record).
			Column("value_int", "value_str").
			WherePK().
			Exec(ctx)
	} else {
		_, err = tx.NewInsert().Model(record).Exec(ctx)
	}

	if isUniqueViolation(err) {
		return ErrValueTaken
	}
	return err
}
