package channel

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// keysInOrder decodes the canonical bytes generically and checks the keys
// come out sorted, which is what makes the encoding byte-exact across
// implementations.
func keysInOrder(t *testing.T, data []byte) {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	require.NoError(t, err)
	require.Equal(t, json.Delim('{'), tok)

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		require.NoError(t, dec.Decode(&skip))
	}
	assert.True(t, sort.StringsAreSorted(keys))
}

func TestOpenChannelRequestCanonical(t *testing.T) {
	req := OpenChannelRequest{
		ChannelAmount:      100,
		ChannelID:          "11111111-2222-4333-8444-555566667777",
		ClientPublicKeyB64: "AAAA",
		CommitmentRootB64:  "BBBB",
		IndexCap:           10,
		Mode:               "payword",
		UnitValue:          10,
	}

	data, err := req.CanonicalBytes()
	require.NoError(t, err)
	keysInOrder(t, data)

	again, err := req.CanonicalBytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	var back OpenChannelRequest
	require.NoError(t, crypto.CanonicalUnmarshal(data, &back))
	assert.Equal(t, req, back)
}

func TestSignatureModeUpdateCanonical(t *testing.T) {
	u := SignatureModeUpdate{ChannelID: "abc", CumulativeOwedAmount: 40}
	data, err := u.CanonicalBytes()
	require.NoError(t, err)

	assert.Equal(t, `{"channel_id":"abc","cumulative_owed_amount":40}`, string(data))

	var back SignatureModeUpdate
	require.NoError(t, crypto.CanonicalUnmarshal(data, &back))
	assert.Equal(t, u, back)
}

func TestClosingStatementCanonical(t *testing.T) {
	s := ClosingStatement{
		ChannelID:                 "abc",
		ClosedAt:                  1700000000,
		FinalCumulativeOwedAmount: 40,
	}
	data, err := s.CanonicalBytes()
	require.NoError(t, err)
	keysInOrder(t, data)

	var back ClosingStatement
	require.NoError(t, crypto.CanonicalUnmarshal(data, &back))
	assert.Equal(t, s, back)
}

func TestCertificateBodyCanonical(t *testing.T) {
	b := CertificateBody{
		ClientPublicKeyB64: "AAAA",
		ExpiresAt:          1700003600,
		InitialBalance:     500,
		IssuedAt:           1700000000,
	}
	data, err := b.CanonicalBytes()
	require.NoError(t, err)
	keysInOrder(t, data)

	var back CertificateBody
	require.NoError(t, crypto.CanonicalUnmarshal(data, &back))
	assert.Equal(t, b, back)
}
