package client

import (
	"time"

	"github.com/uptrace/bun"
)

// EntreeUser is the local copy of an authority profile, keyed by the
// AUTH token it was fetched with.
type EntreeUser struct {
	bun.BaseModel `bun:"table:entree_users,alias:eu"`
	ID            int64          `bun:"id,pk,autoincrement" json:"id"`
	Key           string         `bun:"key,notnull,unique" json:"key"`
	Email         string         `bun:"email,notnull" json:"email"`
	IsActive      bool           `bun:"is_active,notnull" json:"is_active"`
	DateJoined    time.Time      `bun:"date_joined,notnull" json:"date_joined"`
	Data          map[string]any `bun:"app_data,type:json" json:"app_data"`
}

func (u *EntreeUser) String() string {
	if u == nil {
		return "EntreeUser anonymous"
	}
	return "EntreeUser " + u.Email
}

// Get returns a profile value fetched from the authority
func (u *EntreeUser) Get(key string) (any, bool) {
	if u == nil || u.Data == nil {
		return nil, false
	}
	v, ok := u.Data[key]
	return v, ok
}
