package sigverify

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := Address(key)

	t.Run("ValidSignature", func(t *testing.T) {
		sig, err := SignPersonal(key, "claim @alice")
		require.NoError(t, err)
		assert.Len(t, sig, SignatureLength)
		assert.True(t, sig[64] == 27 || sig[64] == 28)
		assert.True(t, Verify("claim @alice", sig, addr))
	})

	t.Run("AddressCaseInsensitive", func(t *testing.T) {
		sig, err := SignPersonal(key, "claim @alice")
		require.NoError(t, err)
		assert.True(t, Verify("claim @alice", sig, strings.ToLower(addr)))
		assert.True(t, Verify("claim @alice", sig, "0x"+strings.ToUpper(addr[2:])))
	})

	t.Run("RawRecoveryID", func(t *testing.T) {
		sig, err := SignPersonal(key, "claim @alice")
		require.NoError(t, err)
		sig[64] -= 27
		assert.True(t, Verify("claim @alice", sig, addr))
	})

	t.Run("SignatureBinding", func(t *testing.T) {
		sig, err := SignPersonal(key, "claim @alice")
		require.NoError(t, err)
		assert.False(t, Verify("claim @bob", sig, addr))
	})

	t.Run("WrongSigner", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		sig, err := SignPersonal(other, "claim @alice")
		require.NoError(t, err)
		assert.False(t, Verify("claim @alice", sig, addr))
	})

	t.Run("MalformedInputs", func(t *testing.T) {
		sig, err := SignPersonal(key, "claim @alice")
		require.NoError(t, err)

		assert.False(t, Verify("claim @alice", nil, addr))
		assert.False(t, Verify("claim @alice", sig[:64], addr))
		assert.False(t, Verify("claim @alice", append(sig, 0), addr))
		assert.False(t, Verify("claim @alice", sig, "not-an-address"))
		assert.False(t, Verify("claim @alice", sig, ""))

		bad := append([]byte(nil), sig...)
		bad[64] = 99
		assert.False(t, Verify("claim @alice", bad, addr))

		zero := make([]byte, SignatureLength)
		assert.False(t, Verify("claim @alice", zero, addr))
	})
}

func TestVerifyHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sigHex, err := SignPersonalHex(key, "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sigHex, "0x"))
	assert.True(t, VerifyHex("hello", sigHex, Address(key)))

	assert.False(t, VerifyHex("hello", strings.TrimPrefix(sigHex, "0x"), Address(key)))
	assert.False(t, VerifyHex("hello", "0xzz", Address(key)))
	assert.False(t, VerifyHex("hello", "", Address(key)))
}

func TestRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := SignPersonal(key, "claim @zoll")
	require.NoError(t, err)

	got, err := Recover("claim @zoll", sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)

	// input is not mutated
	assert.True(t, sig[64] >= 27)

	_, err = Recover("claim @zoll", sig[:10])
	assert.Error(t, err)
}

func TestSignPersonalNilKey(t *testing.T) {
	sig, err := SignPersonal(nil, "x")
	assert.Error(t, err)
	assert.Nil(t, sig)
}

func TestChecksumAddress(t *testing.T) {
	got, err := ChecksumAddress("0x9aab1c3bb3b1d2e9d7a4f5a6a8e2b1d3c4e5fd58")
	require.NoError(t, err)
	assert.Equal(t, "0x9aab1c3bb3b1d2e9d7a4f5a6a8e2b1d3c4e5fd58", strings.ToLower(got))
	assert.Len(t, hexutil.MustDecode(got), 20)

	_, err = ChecksumAddress("0x1234")
	assert.Error(t, err)
}
