package dbinspect

import (
	"regexp"
	"strings"
)

// PIIFinding marks one column as likely carrying personal data.
type PIIFinding struct {
	Table           string  `json:"table"`
	Column          string  `json:"column"`
	PIIType         string  `json:"pii_type"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
}

type namedPatterns struct {
	piiType  string
	patterns []*regexp.Regexp
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// columnNamePatterns map normalized column names to PII types. Order is
// stable so findings are deterministic.
var columnNamePatterns = []namedPatterns{
	{"email", compileAll(`email`, `e_mail`, `mail_address`)},
	{"phone", compileAll(`phone`, `tel`, `mobile`, `cell`, `fax`, `contact_number`)},
	{"ssn", compileAll(`ssn`, `social_security`, `social_sec`, `ss_number`, `tax_id`, `national_id`)},
	{"credit_card", compileAll(`credit_card`, `card_number`, `cc_number`, `card_num`, `payment_card`)},
	{"address", compileAll(`address`, `street`, `city`, `zip`, `postal`, `addr`, `location`)},
	{"name", compileAll(`first_name`, `last_name`, `full_name`, `fname`, `lname`, `given_name`, `surname`, `family_name`, `middle_name`)},
	{"dob", compileAll(`dob`, `birth`, `birthday`, `birthdate`, `born`)},
	{"ip_address", compileAll(`^ip$`, `ip_address`, `ipaddr`, `client_ip`, `remote_addr`, `_ip$`)},
	{"passport", compileAll(`passport`)},
	{"driver_license", compileAll(`driver_license`, `license_number`, `dl_number`, `drivers_license`)},
}

type dataPattern struct {
	piiType string
	pattern *regexp.Regexp
}

// dataPatterns are checked in order of specificity: SSN before phone
// (an SSN would also look phone-shaped) and IP address before phone.
var dataPatterns = []dataPattern{
	{"email", regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)},
	{"ssn", regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)},
	{"ip_address", regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)},
	{"phone", regexp.MustCompile(`^(?:\+\d{1,4}[-\s]?)?(?:\(\d{1,4}\)[-\s]?)?\d{3}[-\s.]\d{3}[-\s.]\d{4}$`)},
	{"credit_card", regexp.MustCompile(`^(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})$`)},
	{"zip_code", regexp.MustCompile(`^\d{5}(?:[-\s]\d{4})?$`)},
}

// TypeConfidence is one detected PII type with its confidence score.
type TypeConfidence struct {
	PIIType    string
	Confidence float64
}

// DetectByColumnName flags PII types suggested by the column name.
// Exact pattern matches score 0.95, substring matches 0.75.
func DetectByColumnName(columnName string) []TypeConfidence {
	normalized := strings.ReplaceAll(strings.ToLower(columnName), "-", "_")

	var findings []TypeConfidence
	for _, group := range columnNamePatterns {
		for _, pattern := range group.patterns {
			if normalized == pattern.String() {
				findings = append(findings, TypeConfidence{group.piiType, 0.95})
				break
			}
			if pattern.MatchString(normalized) {
				findings = append(findings, TypeConfidence{group.piiType, 0.75})
				break
			}
		}
	}
	return findings
}

// DetectByData flags PII types by sampled values. Each value counts for
// at most one pattern, first match wins, and confidence scales with the
// share of samples that matched.
func DetectByData(values []string) []TypeConfidence {
	if len(values) == 0 {
		return nil
	}

	matched := map[string]bool{}
	var findings []TypeConfidence

	for _, dp := range dataPatterns {
		matches := 0
		for _, value := range values {
			if matched[value] {
				continue
			}
			if dp.pattern.MatchString(strings.TrimSpace(value)) {
				matches++
				matched[value] = true
			}
		}
		if matches == 0 {
			continue
		}

		rate := float64(matches) / float64(len(values))
		var confidence float64
		switch {
		case rate >= 0.8:
			confidence = 0.95
		case rate >= 0.5:
			confidence = 0.80
		case rate >= 0.2:
			confidence = 0.60
		default:
			confidence = 0.40
		}
		findings = append(findings, TypeConfidence{dp.piiType, confidence})
	}
	return findings
}
