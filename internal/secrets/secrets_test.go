package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := CipherFromBase64(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := testCipher(t)
	sealed, err := c.Seal("123456:ABC-def")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ABC")

	again, err := c.Seal("123456:ABC-def")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "123456:ABC-def", plain)
}

func TestCipherRejectsBadInput(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = CipherFromBase64("%%%")
	assert.Error(t, err)

	c := testCipher(t)
	_, err = c.Open("not base64!")
	assert.ErrorIs(t, err, ErrInvalidSealed)
	_, err = c.Open(base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrInvalidSealed)

	sealed, err := c.Seal("value")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Open(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestServiceSealsAtRest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(nil, testCipher(t), store)

	require.NoError(t, svc.Set(ctx, "bot-1", "OPENAI_API_KEY", "sk-test"))
	raw, err := store.Get(ctx, "bot-1", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-test", raw)

	v, ok := svc.GetSecret(ctx, "bot-1", "OPENAI_API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "sk-test", v)

	_, ok = svc.GetSecret(ctx, "bot-1", "MISSING")
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "bot-1", "BROKEN", "garbage"))
	_, ok = svc.GetSecret(ctx, "bot-1", "BROKEN")
	assert.False(t, ok)

	keys, err := svc.Keys(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"BROKEN", "OPENAI_API_KEY"}, keys)

	require.NoError(t, svc.Delete(ctx, "bot-1", "BROKEN"))
	assert.ErrorIs(t, svc.Delete(ctx, "bot-1", "BROKEN"), ErrSecretNotFound)
	assert.Error(t, svc.Set(ctx, "", "k", "v"))
}
