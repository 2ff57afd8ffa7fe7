package magiclink

// Intent is the purpose a magic link was requested for.
type Intent string

const (
	IntentSignin     Intent = "signin"
	IntentSignup     Intent = "signup"
	IntentSubscribe  Intent = "subscribe"
	IntentSignupPaid Intent = "signup-paid"
)

// EffectiveIntent resolves the intent actually encoded into a magic link.
// When force is set the caller's requested intent is authoritative; this is
// used by system-initiated flows such as webhook-triggered paid signup,
// where the existence check would race or is known to be moot.
func EffectiveIntent(memberExists bool, requested Intent, force bool) Intent {
	if force {
		return requested
	}
	if memberExists {
		return IntentSignin
	}
	if requested == IntentSubscribe {
		return IntentSubscribe
	}
	return IntentSignup
}
