package engine

// Verdict is the result of classifying one file. It is a closed set:
// Clean, Detected and Failed are the only implementations.
type Verdict interface {
	verdict()
}

// Clean means the engine found nothing
type Clean struct{}

// Detected carries the name of the signature or heuristic that matched
type Detected struct {
	Name string
}

// Failed means the engine could not scan the file
type Failed struct {
	Reason string
}

func (Clean) verdict()    {}
func (Detected) verdict() {}
func (Failed) verdict()   {}

// GeneralOptions control overall engine behaviour
type GeneralOptions struct {
	AllMatches      bool `json:"all_matches"`
	CollectMetadata bool `json:"collect_metadata"`
	Heuristics      bool `json:"heuristics"`
	Unprivileged    bool `json:"unprivileged"`
}

// ParseOptions toggle container and document parsers
type ParseOptions struct {
	Archive bool `json:"archive"`
	ELF     bool `json:"elf"`
	PE      bool `json:"pe"`
	PDF     bool `json:"pdf"`
	SWF     bool `json:"swf"`
	HWP3    bool `json:"hwp3"`
	XMLDocs bool `json:"xml_docs"`
	OLE2    bool `json:"ole2"`
	Mail    bool `json:"mail"`
	HTML    bool `json:"html"`
}

// HeuristicOptions toggle individual heuristic alerts
type HeuristicOptions struct {
	Broken              bool `json:"broken"`
	ExceedsMax          bool `json:"exceeds_max"`
	PhishingSSLMismatch bool `json:"phishing_ssl_mismatch"`
	PhishingCloak       bool `json:"phishing_cloak"`
	Macros              bool `json:"macros"`
	EncryptedArchive    bool `json:"encrypted_archive"`
	EncryptedDoc        bool `json:"encrypted_doc"`
	PartitionIntersect  bool `json:"partition_intersect"`

	// data loss prevention
	Structured          bool `json:"structured"`
	StructuredSSNNormal bool `json:"structured_ssn_normal"`
	StructuredSSNStrip  bool `json:"structured_ssn_stripped"`
}

// MailOptions control mail handling
type MailOptions struct {
	PartialMessage bool `json:"partial_message"`
}

// ScanOptions is the configuration passed with every classification
type ScanOptions struct {
	General   GeneralOptions   `json:"general"`
	Parse     ParseOptions     `json:"parse"`
	Heuristic HeuristicOptions `json:"heuristic"`
	Mail      MailOptions      `json:"mail"`
}

// DefaultScanOptions returns the fixed options every scan run uses.
// Everything is enabled except the data loss prevention heuristics.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		General: GeneralOptions{
			AllMatches:      true,
			CollectMetadata: true,
			Heuristics:      true,
			Unprivileged:    true,
		},
		Parse: ParseOptions{
			Archive: true,
			ELF:     true,
			PE:      true,
			PDF:     true,
			SWF:     true,
			HWP3:    true,
			XMLDocs: true,
			OLE2:    true,
			Mail:    true,
			HTML:    true,
		},
		Heuristic: HeuristicOptions{
			Broken:              true,
			ExceedsMax:          true,
			PhishingSSLMismatch: true,
			PhishingCloak:       true,
			Macros:              true,
			EncryptedArchive:    true,
			EncryptedDoc:        true,
			PartitionIntersect:  true,
		},
		Mail: MailOptions{
			PartialMessage: true,
		},
	}
}
