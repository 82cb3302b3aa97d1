package entree

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResidentSite is the pseudo site owning resident properties and
// resident profile data. It is never listed as an active site.
const ResidentSite int64 = 0

// TokenType is the purpose of a LoginToken
type TokenType = string

const (
	// TokenAuth backs a login session
	TokenAuth TokenType = "AUTH"
	// TokenMail verifies an email address
	TokenMail TokenType = "MAIL"
	// TokenReset authorizes a password reset
	TokenReset TokenType = "RESET"
)

// TokenTypes lists the supported token purposes
var TokenTypes = []TokenType{TokenAuth, TokenMail, TokenReset}

// IsValidTokenType reports whether t is a known token purpose
func IsValidTokenType(t TokenType) bool {
	for _, one := range TokenTypes {
		if one == t {
			return true
		}
	}
	return false
}

// Identity is the account record
type Identity struct {
	bun.BaseModel  `bun:"table:identities,alias:idn"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	IsActive       bool       `bun:"is_active,notnull" json:"is_active"`
	MailVerified   bool       `bun:"mail_verified,notnull" json:"mail_verified"`
	DateJoined     time.Time  `bun:"date_joined,notnull" json:"date_joined"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// NormalizeEmail trims and lower cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsVerified is true for identities allowed past the verification gate
func (i *Identity) IsVerified() bool {
	return i != nil && i.IsActive && i.MailVerified
}

// BasicData is the identity payload shared with relying sites
func (i *Identity) BasicData() map[string]any {
	return map[string]any{
		"email": i.Email,
	}
}

// TokenData is the small payload carried by a token
type TokenData struct {
	Session    string `json:"session,omitempty"`
	OriginSite int64  `json:"origin_site,omitempty"`
	NextURL    string `json:"next_url,omitempty"`
}

// LoginToken is a checksummed value minted for an identity and purpose
type LoginToken struct {
	bun.BaseModel `bun:"table:login_tokens,alias:ltk"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID    uuid.UUID `bun:"identity_id,notnull,type:uuid" json:"identity_id"`
	Identity      *Identity `bun:"rel:belongs-to,join:identity_id=id" json:"identity,omitempty"`
	Value         string    `bun:"value,notnull,unique" json:"value"`
	Type          TokenType `bun:"token_type,notnull" json:"token_type"`
	Touched       time.Time `bun:"touched,notnull" json:"touched"`
	Data          TokenData `bun:"app_data" json:"app_data"`
}

// IsExpired reports whether the token is older than ttl. A zero ttl never expires.
func (t *LoginToken) IsExpired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return t.Touched.Add(ttl).Before(now)
}

// EntreeSite is a relying site
type EntreeSite struct {
	bun.BaseModel `bun:"table:sites,alias:st"`
	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	Title         string     `bun:"title,notnull" json:"title"`
	URL           string     `bun:"url,notnull" json:"url"`
	IsActive      bool       `bun:"is_active,notnull" json:"is_active"`
	Secret        string     `bun:"secret,notnull" json:"-"`
	IsDefault     bool       `bun:"is_default,notnull" json:"is_default"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Key is the cache key of the site
func (s *EntreeSite) Key() string {
	return strconv.FormatInt(s.ID, 10)
}

// SiteProfile marks an identity as a member of a site
type SiteProfile struct {
	bun.BaseModel `bun:"table:site_profiles,alias:sp"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	IdentityID    uuid.UUID `bun:"identity_id,notnull,type:uuid" json:"identity_id"`
	SiteID        int64     `bun:"site_id,notnull" json:"site_id"`
	IsActive      bool      `bun:"is_active,notnull" json:"is_active"`
}

// PropertyType is the value type of a SiteProperty
type PropertyType = string

const (
	PropertyString  PropertyType = "string"
	PropertyInteger PropertyType = "integer"
	PropertyBoolean PropertyType = "boolean"
)

// IsValidPropertyType reports whether t is a known property type
func IsValidPropertyType(t PropertyType) bool {
	switch t {
	case PropertyString, PropertyInteger, PropertyBoolean:
		return true
	}
	return false
}

// SiteProperty defines a profile attribute for a site, or for every
// site when it belongs to ResidentSite.
type SiteProperty struct {
	bun.BaseModel `bun:"table:site_properties,alias:prop"`
	ID            int64        `bun:"id,pk,autoincrement" json:"id"`
	Name          string       `bun:"name,notnull" json:"name"`
	Slug          string       `bun:"slug,notnull" json:"slug"`
	SiteID        int64        `bun:"site_id,notnull" json:"site_id"`
	ValueType     PropertyType `bun:"value_type,notnull" json:"value_type"`
	IsRequired    bool         `bun:"is_required,notnull" json:"is_required"`
	IsUnique      bool         `bun:"is_unique,notnull" json:"is_unique"`
}

// IsResident is true for properties shared by every site
func (p *SiteProperty) IsResident() bool {
	return p.SiteID == ResidentSite
}

// ShortValueLength is the largest string kept inline in profile data
const ShortValueLength = 20

// ProfileBigData keeps string values longer than ShortValueLength
type ProfileBigData struct {
	bun.BaseModel `bun:"table:profile_big_data,alias:pbd"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Value         string `bun:"value,notnull"`
}

// ProfileData is the value of a property for an identity
type ProfileData struct {
	bun.BaseModel `bun:"table:profile_data,alias:pd"`
	ID            int64           `bun:"id,pk,autoincrement"`
	IdentityID    uuid.UUID       `bun:"identity_id,notnull,type:uuid"`
	PropertyID    int64           `bun:"property_id,notnull"`
	ValueInt      *int64          `bun:"value_int"`
	ValueStr      *string         `bun:"value_str"`
	ValueBool     *bool           `bun:"value_bool"`
	BigID         *int64          `bun:"value_big_id"`
	Big           *ProfileBigData `bun:"rel:belongs-to,join:value_big_id=id"`
}

// Value returns the stored value in its natural type
func (d *ProfileData) Value() any {
	switch {
	case d.Big != nil:
		return d.Big.Value
	case d.ValueInt != nil:
		return *d.ValueInt
	case d.ValueBool != nil:
		return *d.ValueBool
	case d.ValueStr != nil:
		return *d.ValueStr
	}
	return ""
}

// ProfileDataUnique is the value of a unique property for an identity,
// no two identities may share it.
type ProfileDataUnique struct {
	bun.BaseModel `bun:"table:profile_data_unique,alias:pdu"`
	ID            int64     `bun:"id,pk,autoincrement"`
	IdentityID    uuid.UUID `bun:"identity_id,notnull,type:uuid"`
	PropertyID    int64     `bun:"property_id,notnull"`
	ValueInt      *int64    `bun:"value_int"`
	ValueStr      *string   `bun:"value_str"`
}

// Value returns the stored value in its natural type
func (d *ProfileDataUnique) Value() any {
	switch {
	case d.ValueInt != nil:
		return *d.ValueInt
	case d.ValueStr != nil:
		return *d.ValueStr
	}
	return ""
}
