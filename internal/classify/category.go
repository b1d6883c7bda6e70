package classify

import "fmt"

// Category is the kind of heuristic alert a detection maps to
type Category int

const (
	Generic Category = iota
	BrokenExecutable
	ExceedsMaximum
	InvalidPartitionTableSize
	PhishingEmailSpoofedDomain
	PhishingSslMismatch
	PhishingCloak
	PhishingGeneric
	OleGeneric
	OleMacros
	EncryptedArchive
	EncryptedDoc
	EncryptedGeneric
	StructuredCreditCardNumber
	StructuredSsnNormal
	StructuredSsnStripped
	StructuredGeneric
)

var categoryNames = map[Category]string{
	Generic:                    "generic",
	BrokenExecutable:           "broken_executable",
	ExceedsMaximum:             "exceeds_maximum",
	InvalidPartitionTableSize:  "invalid_partition_table_size",
	PhishingEmailSpoofedDomain: "phishing_email_spoofed_domain",
	PhishingSslMismatch:        "phishing_ssl_mismatch",
	PhishingCloak:              "phishing_cloak",
	PhishingGeneric:            "phishing_generic",
	OleGeneric:                 "ole_generic",
	OleMacros:                  "ole_macros",
	EncryptedArchive:           "encrypted_archive",
	EncryptedDoc:               "encrypted_doc",
	EncryptedGeneric:           "encrypted_generic",
	StructuredCreditCardNumber: "structured_credit_card_number",
	StructuredSsnNormal:        "structured_ssn_normal",
	StructuredSsnStripped:      "structured_ssn_stripped",
	StructuredGeneric:          "structured_generic",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets categories appear by name in JSON payloads
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory is the inverse of Category.String
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return Generic, fmt.Errorf("unknown heuristic category %q", name)
}

// Categories returns every category in declaration order
func Categories() []Category {
	out := make([]Category, 0, len(categoryNames))
	for c := Generic; c <= StructuredGeneric; c++ {
		out = append(out, c)
	}
	return out
}
