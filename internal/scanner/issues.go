package scanner

import (
	"fmt"

	"github.com/FairForge/vaultscan/internal/classify"
)

// IssueKind tags an Issue
type IssueKind int

const (
	NamedThreat IssueKind = iota
	Heuristic
	NotFound
	ScanError
)

func (k IssueKind) String() string {
	switch k {
	case NamedThreat:
		return "named_threat"
	case Heuristic:
		return "heuristic"
	case NotFound:
		return "not_found"
	case ScanError:
		return "scan_error"
	default:
		return "unknown"
	}
}

// MarshalText lets issue kinds appear by name in JSON payloads
func (k IssueKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *IssueKind) UnmarshalText(text []byte) error {
	for _, candidate := range []IssueKind{NamedThreat, Heuristic, NotFound, ScanError} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown issue kind %q", text)
}

// Issue is one problem recorded against a path. Name holds the threat
// name, or the failure reason for ScanError.
type Issue struct {
	Kind     IssueKind         `json:"kind"`
	Name     string            `json:"name,omitempty"`
	Category classify.Category `json:"category"`
}

// IsDetection reports whether the issue counts towards a run's issue total
func (i Issue) IsDetection() bool {
	return i.Kind == NamedThreat || i.Kind == Heuristic
}

// FileIssues groups the issues found for one path
type FileIssues struct {
	Path   string  `json:"path"`
	Issues []Issue `json:"issues"`
}

func (f FileIssues) HasDetection() bool {
	for _, issue := range f.Issues {
		if issue.IsDetection() {
			return true
		}
	}
	return false
}
