package report

import (
	"strings"

	"hybriddb/internal/domain"
)

// ── Governance ─────────────────────────────────────────────
// Labels are derived from the field name and its profile. Keywords shorter
// than four letters must match a whole name token ("id" in "user_id" but
// not in "paid"); longer ones match anywhere in the lowercased name.

// Governance is the data-governance labelling of one field.
type Governance struct {
	Sensitivity        string   `json:"sensitivity"`
	Criticality        string   `json:"criticality"`
	BusinessImportance string   `json:"business_importance"`
	QueryOptimization  string   `json:"query_optimization"`
	BusinessDomain     string   `json:"business_domain"`
	PrivacyLevel       string   `json:"privacy_level"`
	RetentionPolicy    string   `json:"retention_policy"`
	ComplianceTags     []string `json:"compliance_tags"`
}

// Privacy levels.
const (
	PrivacyPII       = "pii"
	PrivacySensitive = "sensitive"
	PrivacyStandard  = "standard"
)

// Compliance tags.
const (
	ComplianceGDPR  = "GDPR"
	ComplianceCCPA  = "CCPA"
	ComplianceHIPAA = "HIPAA"
	CompliancePCI   = "PCI_DSS"
)

var (
	sensitiveWords = []string{"email", "phone", "address", "name", "ssn", "credit"}
	publicWords    = []string{"city", "country", "weather", "timezone"}
	criticalWords  = []string{"id", "user", "timestamp", "status", "amount", "payment"}
	importantWords = []string{"revenue", "customer", "user", "transaction", "order"}
	piiWords       = []string{"email", "phone", "name", "address"}
	sensitiveData  = []string{"location", "gps", "health", "biometric"}
	healthWords    = []string{"health", "medical"}
	paymentWords   = []string{"payment", "credit"}
)

// businessDomains is checked in order; the first match wins.
var businessDomains = []struct {
	name  string
	words []string
}{
	{"user_management", []string{"user", "name", "email", "phone", "profile"}},
	{"location", []string{"city", "country", "address", "gps", "timezone"}},
	{"device", []string{"device", "os", "version", "battery", "signal"}},
	{"analytics", []string{"timestamp", "session", "event", "metric"}},
	{"health", []string{"heart_rate", "steps", "sleep", "stress"}},
	{"commerce", []string{"purchase", "payment", "item", "subscription"}},
}

// Govern labels a field from its name and profile.
func Govern(p domain.FieldProfile) Governance {
	name := strings.ToLower(p.FieldName)
	completeness := 1 - p.NullRatio()

	g := Governance{
		Sensitivity:        "internal",
		Criticality:        "standard",
		BusinessImportance: "medium",
		QueryOptimization:  "low",
		BusinessDomain:     "general",
		PrivacyLevel:       PrivacyStandard,
		RetentionPolicy:    "indefinite",
		ComplianceTags:     []string{},
	}

	switch {
	case matchesAny(name, sensitiveWords):
		g.Sensitivity = "sensitive"
	case matchesAny(name, publicWords):
		g.Sensitivity = "public"
	}

	switch {
	case matchesAny(name, criticalWords):
		g.Criticality = "critical"
	case completeness > 0.8:
		g.Criticality = "important"
	}

	if matchesAny(name, importantWords) {
		g.BusinessImportance = "high"
	}

	switch {
	case p.TotalCount > 0 && p.NullCount == 0 && p.DistinctValueCount >= p.TotalCount:
		g.QueryOptimization = "excellent"
	case p.UniquenessRatio > 0.7:
		g.QueryOptimization = "good"
	case completeness > 0.8:
		g.QueryOptimization = "moderate"
	}

	for _, d := range businessDomains {
		if matchesAny(name, d.words) {
			g.BusinessDomain = d.name
			break
		}
	}

	switch {
	case matchesAny(name, piiWords):
		g.PrivacyLevel = PrivacyPII
		g.RetentionPolicy = "7_years"
		g.ComplianceTags = append(g.ComplianceTags, ComplianceGDPR, ComplianceCCPA)
	case matchesAny(name, sensitiveData):
		g.PrivacyLevel = PrivacySensitive
		g.RetentionPolicy = "3_years"
	}
	if matchesAny(name, healthWords) {
		g.ComplianceTags = append(g.ComplianceTags, ComplianceHIPAA)
	}
	if matchesAny(name, paymentWords) {
		g.ComplianceTags = append(g.ComplianceTags, CompliancePCI)
	}
	return g
}

func matchesAny(name string, words []string) bool {
	var tokens []string
	for _, w := range words {
		if len(w) >= 4 {
			if strings.Contains(name, w) {
				return true
			}
			continue
		}
		if tokens == nil {
			tokens = nameTokens(name)
		}
		for _, tok := range tokens {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func nameTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
