package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/sigverify"
)

// Well-known development key; never holds funds.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"message", "sign", "verify"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "message", "zoll")
	assert.ErrorContains(t, err, "invalid format")
}

func TestMessage(t *testing.T) {
	out, err := execute(t, "message", "@Zoll")
	require.NoError(t, err)
	assert.Equal(t, "Sign this message to claim @zoll on handled\n", out)

	out, err = execute(t, "--format", "json", "message", "zoll")
	require.NoError(t, err)
	var got messageOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "zoll", got.Handle)

	_, err = execute(t, "message", "no")
	assert.Error(t, err)
}

func TestSignThenVerify(t *testing.T) {
	out, err := execute(t, "sign", "--key", "0x"+testKeyHex, "@Zoll")
	require.NoError(t, err)

	var body ClaimBody
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, "zoll", body.Handle)
	assert.Equal(t, sigverify.Address(key), body.OwnerAddress)
	sig, err := hexutil.Decode(body.Signature)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	out, err = execute(t, "verify", "--address", body.OwnerAddress, "--signature", body.Signature, "zoll")
	require.NoError(t, err)
	assert.Equal(t, "valid", strings.TrimSpace(out))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	out, err = execute(t, "verify", "--address", sigverify.Address(other), "--signature", body.Signature, "zoll")
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Contains(t, out, "invalid")
}

func TestSign_KeyFromEnv(t *testing.T) {
	t.Setenv(keyEnv, testKeyHex)
	out, err := execute(t, "sign", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"handle": "alice"`)
}

func TestSign_NoKey(t *testing.T) {
	t.Setenv(keyEnv, "")
	_, err := execute(t, "sign", "alice")
	assert.ErrorContains(t, err, "no private key")
}

func TestVerify_RequiresFlags(t *testing.T) {
	_, err := execute(t, "verify", "zoll")
	assert.Error(t, err)
}
