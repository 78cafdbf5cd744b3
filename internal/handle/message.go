package handle

// MessageVersion identifies the template below. Bump it together with any
// change to the prefix or suffix; old signatures stop verifying.
const MessageVersion = 1

const (
	messagePrefix = "Sign this message to "
	messageSuffix = " on handled"
)

// CanonicalMessage returns the exact text a wallet must sign to perform
// action. Equal actions always produce equal bytes.
func CanonicalMessage(action string) string {
	return messagePrefix + action + messageSuffix
}

// ClaimAction describes claiming the normalized handle.
func ClaimAction(normalized string) string {
	return "claim " + Marker + normalized
}

// ClaimMessage is CanonicalMessage(ClaimAction(normalized)).
func ClaimMessage(normalized string) string {
	return CanonicalMessage(ClaimAction(normalized))
}
