package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Issue(t *testing.T) {
	clock := &fakeClock{t: epoch}
	c := newTestCodec(t, userSecret, ScopeUser, clock)

	rec := httptest.NewRecorder()
	p, err := c.Issue(rec, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.SubjectID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]

	assert.Equal(t, "user", ck.Name)
	assert.Equal(t, "/", ck.Path)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), ck.MaxAge)
	assert.True(t, ck.Expires.Equal(epoch.Add(30*24*time.Hour)))

	got, err := c.Decode(ck.Value)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestCodec_IssueTwiceGivesDistinctSessions(t *testing.T) {
	clock := &fakeClock{t: epoch}
	c := newTestCodec(t, userSecret, ScopeUser, clock)

	first := httptest.NewRecorder()
	p1, err := c.Issue(first, 42)
	require.NoError(t, err)

	second := httptest.NewRecorder()
	p2, err := c.Issue(second, 42)
	require.NoError(t, err)

	assert.NotEqual(t, p1.SessionID, p2.SessionID)

	// The first cookie stays valid; there is no server-side session table.
	_, err = c.Decode(first.Result().Cookies()[0].Value)
	assert.NoError(t, err)
}

func TestCodec_Clear(t *testing.T) {
	clock := &fakeClock{t: epoch}
	c := newTestCodec(t, adminSecret, ScopeAdmin, clock)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		c.Clear(rec)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		ck := cookies[0]

		assert.Equal(t, "admin", ck.Name)
		assert.Equal(t, "", ck.Value)
		assert.Equal(t, "/", ck.Path)
		assert.Equal(t, -1, ck.MaxAge)
		assert.True(t, ck.Expires.Equal(time.Unix(0, 0)))
		assert.True(t, ck.HttpOnly)

		header := rec.Header().Get("Set-Cookie")
		assert.Contains(t, header, "Max-Age=0")
	}
}
