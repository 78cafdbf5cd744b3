package claim

// Outcome is the terminal state of one claim attempt.
type Outcome int

const (
	// Success means the handle is now owned by the caller's address.
	Success Outcome = iota + 1
	// Invalid means the handle or address was malformed.
	Invalid
	// InvalidSignature means the signature does not prove the address.
	InvalidSignature
	// HandleTaken means another address claimed the handle first.
	HandleTaken
	// RateLimited means the caller spent its attempt budget for this window.
	RateLimited
	// InternalError means the store failed; the claim may have committed.
	InternalError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Invalid:
		return "invalid"
	case InvalidSignature:
		return "invalid_signature"
	case HandleTaken:
		return "handle_taken"
	case RateLimited:
		return "rate_limited"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Kind classifies failed outcomes for callers.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindAuthentication
	KindConflict
	KindRateLimit
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "internal"
	}
}

// Kind maps o onto the error taxonomy. Success maps to KindNone.
func (o Outcome) Kind() Kind {
	switch o {
	case Success:
		return KindNone
	case Invalid:
		return KindValidation
	case InvalidSignature:
		return KindAuthentication
	case HandleTaken:
		return KindConflict
	case RateLimited:
		return KindRateLimit
	default:
		return KindInternal
	}
}

// Retryable reports whether repeating the same request can change the
// outcome. RateLimited clears once the window passes; InternalError may have
// committed, so callers should look the handle up before claiming again.
func (o Outcome) Retryable() bool {
	return o == RateLimited || o == InternalError
}
