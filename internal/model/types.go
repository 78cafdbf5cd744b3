// Package model defines internal and external data shapes for the handle
// service. Internal types are persisted by the registry, while views are
// serialized on the wire.
package model

import "time"

// HandleRecord is the persisted value for a claimed handle. It is written
// exactly once, at claim time, and never mutated afterwards.
type HandleRecord struct {
	OwnerAddress   string    `json:"ownerAddress"`   // EIP-55 checksum hex
	ClaimMessage   string    `json:"claimMessage"`   // exact text the wallet signed
	ClaimSignature string    `json:"claimSignature"` // 0x-prefixed hex
	ClaimedAt      time.Time `json:"claimedAt"`      // UTC
}

// PublicView is the only projection of a HandleRecord returned to callers.
// The signed message and signature are proof artifacts and stay private.
type PublicView struct {
	Handle       string    `json:"handle"`
	OwnerAddress string    `json:"ownerAddress"`
	ClaimedAt    time.Time `json:"claimedAt"`
}

// View projects rec into its public form under the normalized handle.
func (rec HandleRecord) View(handle string) PublicView {
	return PublicView{
		Handle:       handle,
		OwnerAddress: rec.OwnerAddress,
		ClaimedAt:    rec.ClaimedAt,
	}
}
