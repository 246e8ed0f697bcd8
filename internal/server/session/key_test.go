package session

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	_, err := NewKey([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakKey)

	secret := []byte(strings.Repeat("k", MinKeyLen))
	k, err := NewKey(secret)
	require.NoError(t, err)

	secret[0] = 'x'
	assert.Equal(t, byte('k'), k.bytes()[0], "key must not alias the caller's slice")
}

func TestParseKey(t *testing.T) {
	raw := strings.Repeat("r", 40)
	k, err := ParseKey(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), k.bytes())

	b := []byte(strings.Repeat("\x01", 32))
	k, err = ParseKey("base64:" + base64.StdEncoding.EncodeToString(b))
	require.NoError(t, err)
	assert.Equal(t, b, k.bytes())

	_, err = ParseKey("base64:!!!")
	assert.Error(t, err)

	_, err = ParseKey("base64:" + base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrWeakKey)

	_, err = ParseKey("")
	assert.ErrorIs(t, err, ErrWeakKey)
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	ka, err := ParseKey(a)
	require.NoError(t, err)
	assert.Len(t, ka.bytes(), MinKeyLen)
}

func TestKey_EqualAndString(t *testing.T) {
	a, err := NewKey(userSecret)
	require.NoError(t, err)
	b, err := NewKey(userSecret)
	require.NoError(t, err)
	c, err := NewKey(adminSecret)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	assert.NotContains(t, a.String(), string(userSecret))
	assert.NotContains(t, fmt.Sprintf("%v", a), string(userSecret))
}
