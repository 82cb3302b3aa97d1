package entree

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func createTestProperty(t *testing.T, auth *Authority, msg CreatePropertyMessage) *SiteProperty {
	t.Helper()

	var prop *SiteProperty
	msg.OnResponse = func(p *SiteProperty) { prop = p }
	require.NoError(t, NewCreatePropertyHandler(auth.Profiles()).Execute(context.Background(), msg))
	require.NotNil(t, prop)
	return prop
}

func TestCreatePropertySlugConflicts(t *testing.T) {
	auth := newTestAuthority(t)
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)

	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: ResidentSite, Name: "Nickname", Slug: "nickname", ValueType: PropertyString,
	})
	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: site.ID, Name: "Shoe size", Slug: "shoe_size", ValueType: PropertyInteger,
	})

	err := NewCreatePropertyHandler(auth.Profiles()).Execute(context.Background(), CreatePropertyMessage{
		SiteID: site.ID, Name: "Nick", Slug: "nickname", ValueType: PropertyString,
	})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeResidentSlug))

	err = NewCreatePropertyHandler(auth.Profiles()).Execute(context.Background(), CreatePropertyMessage{
		SiteID: ResidentSite, Name: "Shoe", Slug: "shoe_size", ValueType: PropertyInteger,
	})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeSiteSlug))

	err = NewCreatePropertyHandler(auth.Profiles()).Execute(context.Background(), CreatePropertyMessage{
		SiteID: site.ID, Name: "Bad slug", Slug: "Bad Slug", ValueType: PropertyString,
	})
	require.Error(t, err)

	err = NewCreatePropertyHandler(auth.Profiles()).Execute(context.Background(), CreatePropertyMessage{
		SiteID: site.ID, Name: "Flag", Slug: "flag", ValueType: PropertyBoolean, Unique: true,
	})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeInvalidPropertyType))

	props, err := auth.Profiles().SiteProperties(context.Background(), site.ID, true)
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "shoe_size", props[0].Slug)
	assert.Equal(t, "nickname", props[1].Slug)
}

func TestProfileUpdateAndFetch(t *testing.T) {
	auth := newTestAuthority(t)
	ctx := context.Background()
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)

	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: ResidentSite, Name: "Nickname", Slug: "nickname", ValueType: PropertyString, Unique: true,
	})
	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: site.ID, Name: "Shoe size", Slug: "shoe_size", ValueType: PropertyInteger, Required: true,
	})
	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: site.ID, Name: "Newsletter", Slug: "newsletter", ValueType: PropertyBoolean,
	})
	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: site.ID, Name: "Bio", Slug: "bio", ValueType: PropertyString,
	})

	neo := createTestIdentity(t, auth.Authority, "neo@example.com", "pass", true)
	smith := createTestIdentity(t, auth.Authority, "smith@example.com", "pass", true)

	update := func(identity *Identity, values map[string]any) (*ProfileUpdateResponse, error) {
		var res *ProfileUpdateResponse
		err := NewProfileUpdateHandler(auth.Authority).Execute(ctx, ProfileUpdateMessage{
			Identity:   identity,
			SiteID:     site.ID,
			Values:     values,
			OnResponse: func(r *ProfileUpdateResponse) { res = r },
		})
		return res, err
	}

	fetch := func(token string) (map[string]any, error) {
		var data map[string]any
		err := NewProfileFetchHandler(auth.Authority).Execute(ctx, ProfileFetchMessage{
			SiteID:     strconv.FormatInt(site.ID, 10),
			Token:      token,
			Checksum:   SiteTokenChecksum(site.ID, token, site.Secret),
			OnResponse: func(d map[string]any) { data = d },
		})
		return data, err
	}

	session := login(t, auth.Authority, "neo@example.com", "pass", site.ID, "")

	t.Run("inactive profile only reports is_active", func(t *testing.T) {
		data, err := fetch(session.Token.Value)
		require.NoError(t, err)
		assert.Equal(t, false, data["is_active"])
		assert.Equal(t, "neo@example.com", data["email"])
		assert.NotContains(t, data, "shoe_size")
	})

	t.Run("missing required field keeps the profile inactive", func(t *testing.T) {
		res, err := update(neo, map[string]any{"nickname": "the-one"})
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeInvalidProfile))
		assert.Contains(t, res.Errors, "shoe_size")
		assert.False(t, res.Activated)
	})

	t.Run("valid update activates the profile", func(t *testing.T) {
		bio := strings.Repeat("wake up ", 10)
		res, err := update(neo, map[string]any{
			"nickname":   "the-one",
			"shoe_size":  "44",
			"newsletter": "on",
			"bio":        bio,
		})
		require.NoError(t, err)
		assert.True(t, res.Activated)

		data, err := fetch(session.Token.Value)
		require.NoError(t, err)
		assert.Equal(t, true, data["is_active"])
		assert.Equal(t, "the-one", data["nickname"])
		assert.Equal(t, int64(44), data["shoe_size"])
		assert.Equal(t, true, data["newsletter"])
		assert.Equal(t, bio, data["bio"])
	})

	t.Run("overflowing value can shrink again", func(t *testing.T) {
		_, err := update(neo, map[string]any{"shoe_size": "45", "bio": "short"})
		require.NoError(t, err)

		data, err := auth.Profiles().GetData(ctx, neo, site.ID, true, false)
		require.NoError(t, err)
		assert.Equal(t, "short", data["bio"])
		assert.Equal(t, false, data["newsletter"])
	})

	t.Run("unique value taken by another identity", func(t *testing.T) {
		res, err := update(smith, map[string]any{"nickname": "the-one", "shoe_size": "42"})
		require.Error(t, err)
		assert.Equal(t, ErrValueTaken.Message, res.Errors["nickname"])
		assert.False(t, res.Activated)
	})

	t.Run("invalid integer", func(t *testing.T) {
		res, err := update(smith, map[string]any{"nickname": "agent", "shoe_size": "big"})
		require.Error(t, err)
		assert.Contains(t, res.Errors, "shoe_size")
	})

	t.Run("fetch rejections", func(t *testing.T) {
		err := NewProfileFetchHandler(auth.Authority).Execute(ctx, ProfileFetchMessage{
			SiteID:   strconv.FormatInt(site.ID, 10),
			Token:    session.Token.Value,
			Checksum: "bogus",
		})
		assert.True(t, HasTextCode(err, TextCodeInvalidChecksum))

		err = NewProfileFetchHandler(auth.Authority).Execute(ctx, ProfileFetchMessage{
			SiteID:   "999",
			Token:    session.Token.Value,
			Checksum: SiteTokenChecksum(999, session.Token.Value, site.Secret),
		})
		assert.True(t, HasTextCode(err, TextCodeSiteNotFound))

		_, err = fetch("unknown-token")
		assert.True(t, HasTextCode(err, TextCodeTokenNotFound))
	})

	t.Run("deleting a property drops its values", func(t *testing.T) {
		require.NoError(t, NewDeletePropertyHandler(auth.Profiles()).Execute(ctx, DeletePropertyMessage{
			SiteID: site.ID,
			Slug:   "bio",
		}))

		data, err := auth.Profiles().GetData(ctx, neo, site.ID, true, false)
		require.NoError(t, err)
		assert.NotContains(t, data, "bio")
	})
}

func TestProfileUpdateFirstSubmission(t *testing.T) {
	auth := newTestAuthority(t)
	ctx := context.Background()
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)

	createTestProperty(t, auth.Authority, CreatePropertyMessage{
		SiteID: site.ID, Name: "Nick", Slug: "nick", ValueType: PropertyString, Unique: true,
	})

	var activated []string
	auth.WithActivitySink(ActivitySinkFunc(func(_ context.Context, event ActivityEvent) error {
		if event.EventType == ActivityEventProfileActivated {
			activated = append(activated, event.IdentityID)
		}
		return nil
	}))

	for _, email := range []string{"a@example.com", "b@example.com"} {
		identity := createTestIdentity(t, auth.Authority, email, "pass", true)

		var res *ProfileUpdateResponse
		err := NewProfileUpdateHandler(auth.Authority).Execute(ctx, ProfileUpdateMessage{
			Identity:   identity,
			SiteID:     site.ID,
			Values:     map[string]any{"nick": ""},
			OnResponse: func(r *ProfileUpdateResponse) { res = r },
		})
		require.NoError(t, err, email)
		require.NotNil(t, res)
		assert.Empty(t, res.Errors, email)
		assert.True(t, res.Activated, email)

		active, err := auth.Profiles().IsActive(ctx, identity, site.ID)
		require.NoError(t, err)
		assert.True(t, active)

		data, err := auth.Profiles().GetData(ctx, identity, site.ID, true, false)
		require.NoError(t, err)
		assert.Equal(t, "", data["nick"])
	}

	assert.Len(t, activated, 2)
}

func TestProfileFetchRejectsStaleCredentials(t *testing.T) {
	auth := newTestAuthority(t)
	ctx := context.Background()
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)

	fetch := func(token string) error {
		return NewProfileFetchHandler(auth.Authority).Execute(ctx, ProfileFetchMessage{
			SiteID:   strconv.FormatInt(site.ID, 10),
			Token:    token,
			Checksum: SiteTokenChecksum(site.ID, token, site.Secret),
		})
	}

	t.Run("mail token is not an auth token", func(t *testing.T) {
		identity := createTestIdentity(t, auth.Authority, "mail@example.com", "pass", true)
		token, err := auth.Tokens().Create(ctx, identity, TokenMail, TokenData{})
		require.NoError(t, err)

		err = fetch(token.Value)
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeTokenNotFound))
	})

	t.Run("deactivated identity loses its auth tokens", func(t *testing.T) {
		identity := createTestIdentity(t, auth.Authority, "gone@example.com", "pass", true)
		session := login(t, auth.Authority, "gone@example.com", "pass", ResidentSite, "")
		require.NoError(t, fetch(session.Token.Value))

		identity.IsActive = false
		require.NoError(t, auth.Repo().Identities().Save(ctx, identity))

		err := fetch(session.Token.Value)
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeTokenNotFound))
	})

	t.Run("inactive site", func(t *testing.T) {
		createTestIdentity(t, auth.Authority, "late@example.com", "pass", true)
		session := login(t, auth.Authority, "late@example.com", "pass", ResidentSite, "")

		site.IsActive = false
		err := auth.Repo().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return auth.Repo().Sites().UpdateTx(ctx, tx, site)
		})
		require.NoError(t, err)

		err = fetch(session.Token.Value)
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeSiteInactive))
	})
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(PropertyInteger, "12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	_, err = ParseValue(PropertyInteger, "twelve")
	assert.Error(t, err)

	v, err = ParseValue(PropertyBoolean, "on")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = ParseValue(PropertyBoolean, "")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = ParseValue(PropertyString, " trimmed ")
	require.NoError(t, err)
	assert.Equal(t, " trimmed ", v)
}
