package core

import (
	"path"
	"time"
)

// DocumentKind identifies one generated artifact type.
type DocumentKind string

const (
	// DocumentResume is the primary, page-exact document produced through
	// the validation-retry loop.
	DocumentResume DocumentKind = "resume"
	// DocumentCoverLetter is a best-effort secondary document.
	DocumentCoverLetter DocumentKind = "cover_letter"
	// DocumentColdEmail is a best-effort secondary document.
	DocumentColdEmail DocumentKind = "cold_email"
)

// SecondaryKinds lists the secondary document kinds in generation order.
// The orchestrator attempts them strictly in this order, independently.
func SecondaryKinds() []DocumentKind {
	return []DocumentKind{DocumentCoverLetter, DocumentColdEmail}
}

// Label returns the lower-case human-readable name used in progress lines.
func (k DocumentKind) Label() string {
	switch k {
	case DocumentResume:
		return "resume"
	case DocumentCoverLetter:
		return "cover letter"
	case DocumentColdEmail:
		return "cold email"
	default:
		return string(k)
	}
}

// SourceFilename maps a document kind to its stored source filename.
func SourceFilename(kind DocumentKind) string {
	switch kind {
	case DocumentResume:
		return "resume.typ"
	case DocumentCoverLetter:
		return "cover_letter.md"
	case DocumentColdEmail:
		return "cold_email.md"
	default:
		return string(kind) + ".md"
	}
}

// ArtifactFilename maps a document kind to its compiled artifact filename,
// or "" for text-only kinds.
func ArtifactFilename(kind DocumentKind) string {
	if kind == DocumentResume {
		return "resume.pdf"
	}
	return ""
}

// DocumentRef points at a generated document in the content store. The
// primary document carries both the markup source and the compiled artifact;
// secondaries carry text only.
type DocumentRef struct {
	Kind         DocumentKind `json:"kind"`
	SourcePath   string       `json:"source_path"`
	ArtifactPath string       `json:"artifact_path,omitempty"`
	PageCount    int          `json:"page_count,omitempty"`
	Degraded     bool         `json:"degraded,omitempty"`
	Created      time.Time    `json:"created"`
}

// Preferences toggles secondary document generation. The zero value disables
// both; use DefaultPreferences for the default-on behavior.
type Preferences struct {
	CoverLetter bool `json:"cover_letter"`
	ColdEmail   bool `json:"cold_email"`
}

// DefaultPreferences enables every secondary document.
func DefaultPreferences() Preferences {
	return Preferences{CoverLetter: true, ColdEmail: true}
}

// Enabled reports whether generation of the given kind is requested.
// The primary document is always generated.
func (p Preferences) Enabled(kind DocumentKind) bool {
	switch kind {
	case DocumentResume:
		return true
	case DocumentCoverLetter:
		return p.CoverLetter
	case DocumentColdEmail:
		return p.ColdEmail
	default:
		return false
	}
}

// ContentPath builds the content-store path for a session-scoped file,
// namespaced per owner, per session.
func ContentPath(ownerID, sessionID, filename string) string {
	return path.Join("owners", ownerID, "sessions", sessionID, filename)
}

// OwnerPath builds the content-store path for an owner-scoped file.
func OwnerPath(ownerID, filename string) string {
	return path.Join("owners", ownerID, filename)
}

// ProfileFilename is the owner-scoped candidate material consulted when
// a request carries no inline profile. The upload path that writes it is
// outside the engine.
const ProfileFilename = "profile.md"
