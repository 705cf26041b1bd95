package callout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtai/fastagency-sub000/pkg/subjects"
)

func TestCredential_RoundTrip(t *testing.T) {
	in := Credential{DeploymentID: "d1", Secret: "p", ThreadID: "t1"}
	tok, err := in.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":"d1","password":"p","chat_uuid":"t1"}`, tok)

	out, err := ParseCredential(tok)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseCredential_RejectsSubjectWildcards(t *testing.T) {
	_, err := ParseCredential(`{"user":"d1","password":"p","chat_uuid":"t1.>"}`)
	assert.ErrorIs(t, err, subjects.ErrInvalidToken)
}

func TestPermissions_ScopedToThread(t *testing.T) {
	got, err := Permissions(7, "d1", "t1", "chat_messages")
	require.NoError(t, err)
	assert.Contains(t, got, "chat.server.messages.7.d1.t1")
	assert.Contains(t, got, "chat.client.messages.7.d1.t1")
	assert.NotContains(t, got, "chat.client.messages.>")

	_, err = Permissions(7, "d1", "t1", "bad.stream")
	assert.ErrorIs(t, err, subjects.ErrInvalidToken)
}

func TestLoadKeys(t *testing.T) {
	keys, err := GenerateKeys(true)
	require.NoError(t, err)

	issuer, err := LoadIssuer(keys.IssuerSeed)
	require.NoError(t, err)
	pub, err := issuer.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, keys.IssuerPublic, pub)

	x, err := LoadXKey(keys.XKeySeed)
	require.NoError(t, err)
	xpub, err := x.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, keys.XKeyPublic, xpub)

	none, err := LoadXKey("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = LoadIssuer(keys.XKeySeed)
	assert.Error(t, err, "curve seed is not an account seed")
}
