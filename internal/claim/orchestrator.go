// Package claim runs the end-to-end claim flow: rate check, canonical
// message, signature verification, then the atomic registry write.
package claim

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/handle"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/model"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/registry"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/sigverify"
)

// Limiter decides whether a caller may attempt a claim now.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

// Claimer performs the atomic write.
type Claimer interface {
	Claim(ctx context.Context, normalized string, rec model.HandleRecord) (registry.ClaimResult, error)
}

// Request is one claim attempt as received from a caller.
type Request struct {
	Handle         string
	OwnerAddress   string
	Message        string // optional; must equal the canonical message when set
	Signature      string // 0x-prefixed hex
	CallerIdentity string
}

// Result describes how the attempt ended. Handle, OwnerAddress and ClaimedAt
// are set on Success. Err carries the underlying cause of InternalError and
// is never shown to callers. Reason is a caller-safe detail for Invalid.
type Result struct {
	Outcome      Outcome
	Handle       string
	OwnerAddress string
	ClaimedAt    time.Time
	Reason       string
	Err          error
}

// Orchestrator composes the governor, verifier and registry.
type Orchestrator struct {
	limiter  Limiter
	registry Claimer
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates an Orchestrator.
func New(limiter Limiter, reg Claimer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		limiter:  limiter,
		registry: reg,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for claimedAt.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Claim runs one attempt to completion. It never returns an error; every
// path ends in exactly one Outcome.
func (o *Orchestrator) Claim(ctx context.Context, req Request) Result {
	allowed, err := o.limiter.Allow(ctx, req.CallerIdentity)
	if err != nil {
		o.logger.Error("rate governor unavailable, denying claim", "caller", req.CallerIdentity, "error", err)
		return Result{Outcome: InternalError, Err: err}
	}
	if !allowed {
		return Result{Outcome: RateLimited}
	}

	normalized := handle.Normalize(req.Handle)
	if err := handle.Validate(normalized); err != nil {
		return Result{Outcome: Invalid, Reason: err.Error()}
	}
	owner, err := sigverify.ChecksumAddress(req.OwnerAddress)
	if err != nil {
		return Result{Outcome: Invalid, Reason: "ownerAddress must be a 20-byte hex address"}
	}

	expected := handle.ClaimMessage(normalized)
	if req.Message != "" && req.Message != expected {
		return Result{Outcome: InvalidSignature}
	}

	sig, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil || !sigverify.Verify(expected, sig, owner) {
		return Result{Outcome: InvalidSignature}
	}

	rec := model.HandleRecord{
		OwnerAddress:   owner,
		ClaimMessage:   expected,
		ClaimSignature: hexutil.Encode(sig),
		ClaimedAt:      o.clock(),
	}
	res, err := o.registry.Claim(ctx, normalized, rec)
	if err != nil {
		o.logger.Error("registry claim failed", "handle", normalized, "owner", owner, "error", err)
		return Result{Outcome: InternalError, Err: err}
	}
	if res != registry.Created {
		return Result{Outcome: HandleTaken}
	}

	o.logger.Info("handle claimed", "handle", normalized, "owner", owner)
	return Result{
		Outcome:      Success,
		Handle:       normalized,
		OwnerAddress: owner,
		ClaimedAt:    rec.ClaimedAt,
	}
}
