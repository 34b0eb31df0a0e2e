package pipeline

import "regexp"

// Redaction placeholders.
const (
	redactedEmail  = "[REDACTED_EMAIL]"
	redactedIP     = "[REDACTED_IP]"
	redactedIPv6   = "[REDACTED_IPV6]"
	redactedPhone  = "[REDACTED_PHONE]"
	redactedSSN    = "[REDACTED_SSN]"
	redactedCC     = "[REDACTED_CC]"
	redactedSecret = "[REDACTED_SECRET]"
	redactedAWSKey = "[REDACTED_AWS_KEY]"
	redactedUser   = "[REDACTED_USER]"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)
	ipv6Pattern  = regexp.MustCompile(`(?i)(?:(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}|(?:[0-9a-fA-F]{1,4}:){1,7}:|(?:[0-9a-fA-F]{1,4}:){1,6}:[0-9a-fA-F]{1,4})`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`)
	ccPattern    = regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9][0-9])[0-9]{12})\b`)
	// The key-name prefix is preserved; only the secret value is replaced.
	apiKeyPattern = regexp.MustCompile(`(?i)\b((?:api[_-]?key|apikey|secret|token|password|pwd)[\s:=]+['"]?)[a-zA-Z0-9_\-]{20,}(['"]?)`)
	awsKeyPattern = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	// Path prefix is preserved so the structure survives redaction.
	userPathPattern = regexp.MustCompile(`(?i)((?:/home/|/Users/|C:\\Users\\))([a-zA-Z0-9_.-]+)`)
)

// Redactor replaces PII in event payloads with sentinel tokens. SSN,
// credit card, API key and AWS key redaction is unconditional; email,
// IP and username-in-path redaction is configurable.
type Redactor struct {
	RedactEmails    bool
	RedactIPs       bool
	RedactUsernames bool
}

// NewRedactor returns a redactor with all toggles enabled.
func NewRedactor() *Redactor {
	return &Redactor{RedactEmails: true, RedactIPs: true, RedactUsernames: true}
}

func (r *Redactor) Name() string { return "pii_redaction" }

// Process walks the payload full-depth and redacts every string leaf,
// then records redaction.applied=true.
func (r *Redactor) Process(data map[string]any) error {
	for key, value := range data {
		data[key] = r.redactValue(value)
	}
	redaction := getMap(data, "redaction")
	redaction["applied"] = true
	redaction["version"] = "1.0.0"
	return nil
}

func (r *Redactor) redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, inner := range v {
			v[key] = r.redactValue(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = r.redactValue(inner)
		}
		return v
	case string:
		return r.RedactString(v)
	default:
		return value
	}
}

// RedactString applies the pattern set to one string. Order matters:
// SSN runs before phone and IP before phone so ambiguous digit groups
// classify as the more specific kind.
func (r *Redactor) RedactString(text string) string {
	result := text

	result = ssnPattern.ReplaceAllString(result, redactedSSN)
	result = ccPattern.ReplaceAllString(result, redactedCC)
	result = apiKeyPattern.ReplaceAllString(result, "${1}"+redactedSecret+"${2}")
	result = awsKeyPattern.ReplaceAllString(result, redactedAWSKey)

	if r.RedactEmails {
		result = emailPattern.ReplaceAllString(result, redactedEmail)
	}
	if r.RedactIPs {
		result = ipv4Pattern.ReplaceAllString(result, redactedIP)
		result = ipv6Pattern.ReplaceAllString(result, redactedIPv6)
	}
	if r.RedactUsernames {
		result = userPathPattern.ReplaceAllString(result, "${1}"+redactedUser)
	}

	result = phonePattern.ReplaceAllString(result, redactedPhone)
	return result
}
