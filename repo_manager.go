package entree

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/goliatone/go-entree/cache"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Identities() Identities
	Tokens() LoginTokens
	Sites() Sites
	Properties() SiteProperties
	Profiles() SiteProfiles
}

type mngr struct {
	db         *bun.DB
	identities Identities
	tokens     LoginTokens
	sites      Sites
	properties SiteProperties
	profiles   SiteProfiles
}

// NewRepositoryManager wires every store on db. cacheTTL applies to the
// token and site caches, zero means cache.DefaultTTL.
func NewRepositoryManager(db *bun.DB, cacheTTL ...time.Duration) RepositoryManager {
	ttl := cache.DefaultTTL
	if len(cacheTTL) > 0 && cacheTTL[0] > 0 {
		ttl = cacheTTL[0]
	}

	tokens := NewLoginTokensRepository(db, ttl)
	return &mngr{
		db:         db,
		tokens:     tokens,
		identities: NewIdentitiesRepository(db, tokens),
		sites:      NewSitesRepository(db, ttl),
		properties: NewSitePropertiesRepository(db),
		profiles:   NewSiteProfilesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	if m.sites == nil {
		return errors.New("repository sites should be initialized")
	}

	if m.properties == nil || m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Identities() Identities {
	return m.identities
}

func (m mngr) Tokens() LoginTokens {
	return m.tokens
}

func (m mngr) Sites() Sites {
	return m.sites
}

func (m mngr) Properties() SiteProperties {
	return m.properties
}

func (m mngr) Profiles() SiteProfiles {
	return m.profiles
}
