// Package types defines the data shared by the help desk packages: request
// categories, knowledge sources, pipeline results and the sentinel errors
// callers match with errors.Is.
package types

import (
	"fmt"
	"strings"
)

// Category is the closed set of request categories the help desk routes to.
// The zero value is [GeneralInquiry], the reserved fallback used whenever
// classification confidence is too low to trust.
type Category uint8

const (
	// GeneralInquiry is the fallback category. It never owns exemplars of its
	// own in the default table and is assigned when confidence falls below the
	// classifier threshold.
	GeneralInquiry Category = iota
	PasswordReset
	SoftwareInstallation
	HardwareFailure
	NetworkConnectivity
	EmailConfiguration
	SecurityIncident
	PolicyQuestion

	numCategories
)

var categoryNames = [numCategories]string{
	GeneralInquiry:       "general_inquiry",
	PasswordReset:        "password_reset",
	SoftwareInstallation: "software_installation",
	HardwareFailure:      "hardware_failure",
	NetworkConnectivity:  "network_connectivity",
	EmailConfiguration:   "email_configuration",
	SecurityIncident:     "security_incident",
	PolicyQuestion:       "policy_question",
}

// Categories returns every defined category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := range numCategories {
		out = append(out, c)
	}
	return out
}

// String returns the snake_case identifier of c, or "category(N)" for values
// outside the defined set.
func (c Category) String() string {
	if c.Valid() {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool { return c < numCategories }

// MarshalText implements [encoding.TextMarshaler].
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("types: unknown category %d", uint8(c))
	}
	return []byte(categoryNames[c]), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory resolves a category identifier. Matching is case-insensitive
// and ignores surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == key {
			return Category(i), nil
		}
	}
	return GeneralInquiry, fmt.Errorf("types: %w: unknown category %q", ErrInvalidArgument, s)
}

// Source identifies the document collection a knowledge chunk was ingested from.
type Source string

const (
	SourceKnowledgeBase      Source = "knowledge_base"
	SourceCompanyPolicies    Source = "company_policies"
	SourceTroubleshootingDB  Source = "troubleshooting_db"
	SourceInstallationGuides Source = "installation_guides"
)

// Sources returns every known knowledge source.
func Sources() []Source {
	return []Source{SourceKnowledgeBase, SourceCompanyPolicies, SourceTroubleshootingDB, SourceInstallationGuides}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceKnowledgeBase, SourceCompanyPolicies, SourceTroubleshootingDB, SourceInstallationGuides:
		return true
	}
	return false
}
