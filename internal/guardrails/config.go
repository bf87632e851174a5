package guardrails

// Config holds the feature toggles and term lists for both validation
// passes. It is loaded once at startup and treated as immutable; a hot
// reload must swap the whole orchestrator, never edit a live Config.
type Config struct {
	// Enabled=false short-circuits every check to allow. Reserved for
	// trusted internal pipelines; end-user traffic always runs enabled.
	Enabled bool `yaml:"enabled"`

	CheckJailbreak     bool `yaml:"check_jailbreak"`
	CheckTopic         bool `yaml:"check_topic"`
	CheckInputPII      bool `yaml:"check_input_pii"`
	CheckBlockedTerms  bool `yaml:"check_blocked_terms"`
	CheckPromptLeak    bool `yaml:"check_prompt_leak"`
	CheckMedicalAdvice bool `yaml:"check_medical_advice"`
	CheckOutputPII     bool `yaml:"check_output_pii"`

	// BlockedTerms are matched as case-insensitive substrings in model
	// output.
	BlockedTerms []string `yaml:"blocked_terms"`

	// TrustedSources bypass all checks (internal pipeline identifiers,
	// never user-controllable values).
	TrustedSources []string `yaml:"trusted_sources"`

	// ExtraTopicKeywords extends the built-in domain keyword list.
	ExtraTopicKeywords []string `yaml:"extra_topic_keywords"`
}

// DefaultConfig enables every check with an empty blocked-term list.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		CheckJailbreak:     true,
		CheckTopic:         true,
		CheckInputPII:      true,
		CheckBlockedTerms:  true,
		CheckPromptLeak:    true,
		CheckMedicalAdvice: true,
		CheckOutputPII:     true,
	}
}

func (c Config) isTrusted(source string) bool {
	if source == "" {
		return false
	}
	for _, s := range c.TrustedSources {
		if s == source {
			return true
		}
	}
	return false
}

// Fixed user-facing refusal messages. They never echo detected content
// back to the caller; the reason goes to the audit trail only.
const (
	RefusalInput  = "This request cannot be processed."
	RefusalOutput = "I cannot provide this response."
)
