package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entree"
)

const (
	testSiteID = int64(7)
	testSecret = "site-secret"
)

type fakeAuthority struct {
	*httptest.Server
	calls  atomic.Int32
	status int
	body   string
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()

	fa := &fakeAuthority{status: http.StatusOK}
	fa.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fa.calls.Add(1)
		if r.URL.Path != entree.RouteProfileFetch || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		token := r.PostForm.Get("token")
		expected := entree.SiteTokenChecksum(testSiteID, token, testSecret)
		if r.PostForm.Get("checksum") != expected || r.PostForm.Get("site_id") != "7" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fa.status)
		if fa.body != "" {
			_, _ = w.Write([]byte(fa.body))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"email":    "neo@example.com",
			"nickname": "neo",
		})
	}))
	t.Cleanup(fa.Close)
	return fa
}

func newTestFetcher(t *testing.T, serverURL string) (*Fetcher, UserStore) {
	t.Helper()

	store := NewMemoryUserStore(time.Minute)
	f := NewFetcher(Config{
		ServerURL: serverURL,
		SiteID:    testSiteID,
		SecretKey: testSecret,
		CookieKey: "cookie-key",
	}, store)
	return f, store
}

func TestFetcher_PerformFetch(t *testing.T) {
	fa := newFakeAuthority(t)
	f, store := newTestFetcher(t, fa.URL)

	user, err := f.Fetch(context.Background(), "TOKEN1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "neo@example.com", user.Email)
	assert.Equal(t, "TOKEN1", user.Key)

	nickname, ok := user.Get("nickname")
	assert.True(t, ok)
	assert.Equal(t, "neo", nickname)

	stored, err := store.Get(context.Background(), "TOKEN1")
	require.NoError(t, err)
	assert.Equal(t, user.Email, stored.Email)

	// signed cookies hit the store, the authority is not asked again
	user, err = f.Fetch(context.Background(), SignCookie("TOKEN1", "cookie-key"))
	require.NoError(t, err)
	assert.Equal(t, "neo@example.com", user.Email)
	assert.Equal(t, int32(1), fa.calls.Load())
}

func TestFetcher_Markers(t *testing.T) {
	fa := newFakeAuthority(t)
	f, _ := newTestFetcher(t, fa.URL)

	for _, raw := range []string{"", AnonymousValue, InvalidValue} {
		user, err := f.Fetch(context.Background(), raw)
		assert.NoError(t, err)
		assert.Nil(t, user)
	}
	assert.Zero(t, fa.calls.Load())
}

func TestFetcher_Mismatch(t *testing.T) {
	fa := newFakeAuthority(t)
	f, _ := newTestFetcher(t, fa.URL)

	_, err := f.Fetch(context.Background(), SignCookie("TOKEN1", "wrong-key"))
	assert.True(t, errors.Is(err, ErrInvalidAuth))
	assert.Zero(t, fa.calls.Load())
}

func TestFetcher_Refused(t *testing.T) {
	fa := newFakeAuthority(t)
	f := NewFetcher(Config{
		ServerURL: fa.URL,
		SiteID:    testSiteID,
		SecretKey: "not-the-site-secret",
	}, NewMemoryUserStore(time.Minute))

	_, err := f.Fetch(context.Background(), "TOKEN1")
	assert.True(t, errors.Is(err, ErrInvalidAuth))
}

func TestFetcher_FailuresAreAnonymous(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		fa := newFakeAuthority(t)
		fa.status = http.StatusInternalServerError
		f, store := newTestFetcher(t, fa.URL)

		user, err := f.Fetch(context.Background(), "TOKEN1")
		assert.NoError(t, err)
		assert.Nil(t, user)

		_, err = store.Get(context.Background(), "TOKEN1")
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})

	t.Run("bad json", func(t *testing.T) {
		fa := newFakeAuthority(t)
		fa.body = "{not json"
		f, _ := newTestFetcher(t, fa.URL)

		user, err := f.Fetch(context.Background(), "TOKEN1")
		assert.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("no email", func(t *testing.T) {
		fa := newFakeAuthority(t)
		fa.body = `{"nickname": "ghost"}`
		f, _ := newTestFetcher(t, fa.URL)

		user, err := f.Fetch(context.Background(), "TOKEN1")
		assert.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("unreachable", func(t *testing.T) {
		fa := newFakeAuthority(t)
		url := fa.URL
		fa.Close()
		f, _ := newTestFetcher(t, url)

		user, err := f.Fetch(context.Background(), "TOKEN1")
		assert.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestFetcher_FetchParams(t *testing.T) {
	f, _ := newTestFetcher(t, "http://auth.example.com")

	params := f.FetchParams("TOKEN1")
	assert.Equal(t, "TOKEN1", params.Get("token"))
	assert.Equal(t, "7", params.Get("site_id"))
	assert.Equal(t, entree.SiteTokenChecksum(testSiteID, "TOKEN1", testSecret), params.Get("checksum"))
	assert.Equal(t, "http://auth.example.com/profile/fetch/", f.Config().ProfileFetchURL())
}
