package claim

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/handle"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/model"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/ratelimit"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/registry"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/sigverify"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/storage"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	store *storage.Memory
	reg   *registry.Registry
	orch  *Orchestrator
}

func newEnv(t *testing.T, limit int) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	reg := registry.New(store, logger)
	gov := ratelimit.New(store, "claim", limit, time.Minute)
	orch := New(gov, reg, logger).WithClock(func() time.Time { return fixedNow })
	return &testEnv{store: store, reg: reg, orch: orch}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, name, caller string) Request {
	t.Helper()
	msg := handle.ClaimMessage(handle.Normalize(name))
	sig, err := sigverify.SignPersonalHex(key, msg)
	require.NoError(t, err)
	return Request{
		Handle:         name,
		OwnerAddress:   sigverify.Address(key),
		Message:        msg,
		Signature:      sig,
		CallerIdentity: caller,
	}
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type brokenClaimer struct{}

func (brokenClaimer) Claim(context.Context, string, model.HandleRecord) (registry.ClaimResult, error) {
	return 0, errors.New("store timeout")
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 20)
	zollKey := newKey(t)

	res := env.orch.Claim(ctx, signedRequest(t, zollKey, "zoll", "10.0.0.1"))
	require.Equal(t, Success, res.Outcome)
	assert.Equal(t, "zoll", res.Handle)
	assert.Equal(t, sigverify.Address(zollKey), res.OwnerAddress)
	assert.Equal(t, fixedNow, res.ClaimedAt)
	assert.Equal(t, KindNone, res.Outcome.Kind())

	// re-claim with a different, valid key
	res = env.orch.Claim(ctx, signedRequest(t, newKey(t), "zoll", "10.0.0.2"))
	assert.Equal(t, HandleTaken, res.Outcome)
	assert.Equal(t, KindConflict, res.Outcome.Kind())

	rec, err := env.reg.Lookup(ctx, handle.Normalize("@ZOLL"))
	require.NoError(t, err)
	assert.Equal(t, sigverify.Address(zollKey), rec.OwnerAddress)
	assert.Equal(t, fixedNow, rec.ClaimedAt)
	assert.Equal(t, handle.ClaimMessage("zoll"), rec.ClaimMessage)
}

func TestOrchestrator_NormalizesBeforeClaim(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 20)
	key := newKey(t)

	res := env.orch.Claim(ctx, signedRequest(t, key, "@Alice", "c"))
	require.Equal(t, Success, res.Outcome)
	assert.Equal(t, "alice", res.Handle)

	res = env.orch.Claim(ctx, signedRequest(t, newKey(t), "ALICE", "c"))
	assert.Equal(t, HandleTaken, res.Outcome)
}

func TestOrchestrator_Uniqueness(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 1000)

	const n = 40
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = signedRequest(t, newKey(t), "contended", fmt.Sprintf("caller-%d", i))
	}

	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = env.orch.Claim(ctx, reqs[i]).Outcome
		}(i)
	}
	wg.Wait()

	counts := map[Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[Success])
	assert.Equal(t, n-1, counts[HandleTaken])
}

func TestOrchestrator_NoImpersonation(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 20)
	victim := newKey(t)
	attacker := newKey(t)

	req := signedRequest(t, attacker, "alice", "c")
	req.OwnerAddress = sigverify.Address(victim)

	res := env.orch.Claim(ctx, req)
	assert.Equal(t, InvalidSignature, res.Outcome)
	assert.Equal(t, KindAuthentication, res.Outcome.Kind())

	exists, err := env.reg.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestrator_SignatureBoundToHandle(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 20)
	key := newKey(t)

	// signature over "claim @alice" replayed as proof for bob
	req := signedRequest(t, key, "alice", "c")
	req.Handle = "bob"
	req.Message = ""
	assert.Equal(t, InvalidSignature, env.orch.Claim(ctx, req).Outcome)

	// caller-supplied message that differs from the canonical one
	req = signedRequest(t, key, "bob", "c")
	req.Message = "claim @bob"
	assert.Equal(t, InvalidSignature, env.orch.Claim(ctx, req).Outcome)

	// omitted message is re-derived
	req = signedRequest(t, key, "bob", "c")
	req.Message = ""
	assert.Equal(t, Success, env.orch.Claim(ctx, req).Outcome)
}

func TestOrchestrator_MalformedSignature(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 20)
	key := newKey(t)

	for _, sig := range []string{"", "0x", "nothex", "0x1234", "deadbeef"} {
		req := signedRequest(t, key, "alice", "c")
		req.Signature = sig
		assert.Equal(t, InvalidSignature, env.orch.Claim(ctx, req).Outcome, "signature %q", sig)
	}
}

func TestOrchestrator_Validation(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 20)
	key := newKey(t)

	req := signedRequest(t, key, "a!", "c")
	res := env.orch.Claim(ctx, req)
	assert.Equal(t, Invalid, res.Outcome)
	assert.Equal(t, KindValidation, res.Outcome.Kind())
	assert.NotEmpty(t, res.Reason)

	req = signedRequest(t, key, "alice", "c")
	req.OwnerAddress = "0x1234"
	assert.Equal(t, Invalid, env.orch.Claim(ctx, req).Outcome)
}

func TestOrchestrator_RateLimited(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, 2)
	key := newKey(t)

	assert.Equal(t, Success, env.orch.Claim(ctx, signedRequest(t, key, "one", "spammer")).Outcome)
	assert.Equal(t, Success, env.orch.Claim(ctx, signedRequest(t, key, "two", "spammer")).Outcome)

	res := env.orch.Claim(ctx, signedRequest(t, key, "three", "spammer"))
	assert.Equal(t, RateLimited, res.Outcome)
	assert.Equal(t, KindRateLimit, res.Outcome.Kind())
	assert.True(t, res.Outcome.Retryable())

	exists, err := env.reg.Exists(ctx, "three")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestrator_InternalErrors(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := newKey(t)

	// governor failure denies
	orch := New(brokenLimiter{}, registry.New(storage.NewMemory(), logger), logger)
	res := orch.Claim(ctx, signedRequest(t, key, "alice", "c"))
	assert.Equal(t, InternalError, res.Outcome)
	assert.Error(t, res.Err)

	orch = New(allowAll{}, brokenClaimer{}, logger)
	res = orch.Claim(ctx, signedRequest(t, key, "alice", "c"))
	assert.Equal(t, InternalError, res.Outcome)
	assert.Equal(t, KindInternal, res.Outcome.Kind())
	assert.True(t, res.Outcome.Retryable())
}

func TestOutcomeStrings(t *testing.T) {
	for o, want := range map[Outcome]string{
		Success:          "success",
		Invalid:          "invalid",
		InvalidSignature: "invalid_signature",
		HandleTaken:      "handle_taken",
		RateLimited:      "rate_limited",
		InternalError:    "internal_error",
		Outcome(0):       "unknown",
	} {
		assert.Equal(t, want, o.String())
	}
	assert.False(t, HandleTaken.Retryable())
	assert.False(t, InvalidSignature.Retryable())
	assert.Equal(t, "authentication", KindAuthentication.String())
}
