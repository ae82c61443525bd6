package terminology

// NphiesTerminologyNamespace is the URL prefix reserved for code systems
// published by the exchange. An unknown system inside this namespace is a
// validation error; unknown systems outside it belong to third parties and
// are not flagged.
const NphiesTerminologyNamespace = "http://nphies.sa/terminology/"

// Entry is one registered code within a code system.
type Entry struct {
	Code       string `json:"code"`
	Display    string `json:"display,omitempty"`
	Definition string `json:"definition,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
	Section    string `json:"section,omitempty"`
}

// CodeSystem is a namespaced vocabulary of codes keyed by code value.
type CodeSystem struct {
	URL         string            `json:"url"`
	Version     string            `json:"version,omitempty"`
	Name        string            `json:"name,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Codes       map[string]*Entry `json:"-"`
}

// ValueSet restricts membership to a set of code system URLs.
type ValueSet struct {
	URL     string              `json:"url"`
	Systems map[string]struct{} `json:"-"`
}

// Validation error codes, in precedence order.
const (
	CodeMissingSystemOrCode     = "MISSING_SYSTEM_OR_CODE"
	CodeUnknownCodeSystem       = "UNKNOWN_CODE_SYSTEM"
	CodeUnknownCode             = "UNKNOWN_CODE"
	CodeSystemNotAllowedInVS    = "SYSTEM_NOT_ALLOWED_IN_VALUE_SET"
	CodeUnknownNphiesCodeSystem = "UNKNOWN_NPHIES_CODESYSTEM"
	CodeCodingMissingSystem     = "CODING_MISSING_SYSTEM"
	CodeCodingMissingCode       = "CODING_MISSING_CODE"
)

// CodeValidation is the outcome of a single validate-code call.
type CodeValidation struct {
	Valid   bool   `json:"valid"`
	Code    string `json:"error_code,omitempty"`
	Message string `json:"message,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodingIssue is one finding from a payload coding walk.
type CodingIssue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Path     string `json:"path"`
	Message  string `json:"message"`
	System   string `json:"system,omitempty"`
	Value    string `json:"value,omitempty"`
}

// PayloadValidation aggregates the findings of one payload coding walk.
type PayloadValidation struct {
	Valid        bool          `json:"valid"`
	CheckedCount int           `json:"checked_count"`
	ErrorCount   int           `json:"error_count"`
	WarningCount int           `json:"warning_count"`
	Errors       []CodingIssue `json:"errors"`
	Warnings     []CodingIssue `json:"warnings"`
}

// SystemSummary is the per-system view served by GET /terminology/systems.
type SystemSummary struct {
	URL       string `json:"url"`
	Version   string `json:"version,omitempty"`
	Name      string `json:"name,omitempty"`
	Title     string `json:"title,omitempty"`
	CodeCount int    `json:"code_count"`
}
