// Package fhir validates the FHIR resources and bundles the bridge submits
// to the exchange. The validator is stateless: rules are dispatched by
// resource type and every call produces a fresh result.
package fhir

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultCurrency is the exchange's billing currency.
const DefaultCurrency = "SAR"

// NationalIDSystem is the identifier system for the Saudi national id.
const NationalIDSystem = "http://nphies.sa/identifier/nationalid"

var (
	nationalIDPattern = regexp.MustCompile(`^\d{10}$`)
	icd10Pattern      = regexp.MustCompile(`^[A-TV-Z]\d{2}(\.\d{1,4})?$`)
)

// requiredFields lists the structurally required top-level fields per
// resource type. A missing field is a hard error.
var requiredFields = map[string][]string{
	"Patient":      {"resourceType", "identifier"},
	"Coverage":     {"resourceType", "status", "beneficiary", "payor"},
	"Claim":        {"resourceType", "status", "type", "patient", "provider", "insurance", "item", "total"},
	"Organization": {"resourceType", "name"},
	"Bundle":       {"resourceType", "type", "entry"},
}

// Issue is one validation finding.
type Issue struct {
	Severity string         `json:"severity"`
	Code     string         `json:"code"`
	Path     string         `json:"path"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// ValidationResult collects the findings for one resource or bundle.
// IsValid is derived: no errors means valid.
type ValidationResult struct {
	ResourceType string  `json:"resource_type"`
	ResourceID   string  `json:"resource_id,omitempty"`
	Errors       []Issue `json:"errors"`
	Warnings     []Issue `json:"warnings"`
	Info         []Issue `json:"info"`
}

// IsValid reports whether the resource passed without hard errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(code, path, message string) {
	r.Errors = append(r.Errors, Issue{Severity: "error", Code: code, Path: path, Message: message})
}

func (r *ValidationResult) addWarning(code, path, message string) {
	r.Warnings = append(r.Warnings, Issue{Severity: "warning", Code: code, Path: path, Message: message})
}

func (r *ValidationResult) addInfo(code, path, message string) {
	r.Info = append(r.Info, Issue{Severity: "info", Code: code, Path: path, Message: message})
}

// Validator validates single resources and bundles against the exchange's
// structural and business rules.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateResource validates one decoded resource, dispatching on its
// resourceType. Unrecognized types pass with an info note so unmodeled
// resources keep flowing.
func (v *Validator) ValidateResource(resource map[string]any) *ValidationResult {
	resourceType, _ := resource["resourceType"].(string)
	result := &ValidationResult{
		ResourceType: resourceType,
		Errors:       []Issue{},
		Warnings:     []Issue{},
		Info:         []Issue{},
	}
	if id, ok := resource["id"].(string); ok {
		result.ResourceID = id
	}
	if resourceType == "" {
		result.addError("MISSING_RESOURCE_TYPE", "/resourceType", "resource has no resourceType")
		return result
	}

	v.checkRequiredFields(resource, resourceType, result)

	switch resourceType {
	case "Patient":
		v.validatePatient(resource, result)
	case "Coverage":
		v.validateCoverage(resource, result)
	case "Claim":
		v.validateClaim(resource, result)
	case "Bundle":
		v.ValidateBundle(resource, result)
	default:
		result.addInfo("UNCHECKED_RESOURCE_TYPE", "", fmt.Sprintf("no type-specific rules for %s", resourceType))
	}
	return result
}

func (v *Validator) checkRequiredFields(resource map[string]any, resourceType string, result *ValidationResult) {
	for _, field := range requiredFields[resourceType] {
		if _, ok := resource[field]; !ok {
			result.addError("MISSING_REQUIRED_FIELD", "/"+field,
				fmt.Sprintf("%s requires top-level field %q", resourceType, field))
		}
	}
}

// validatePatient checks the national-id identifier. A malformed national
// id is an error; its complete absence is only a warning because other
// identifier systems are tolerated.
func (v *Validator) validatePatient(resource map[string]any, result *ValidationResult) {
	identifiers, _ := resource["identifier"].([]any)
	found := false
	for i, raw := range identifiers {
		ident, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		system, _ := ident["system"].(string)
		if system != NationalIDSystem {
			continue
		}
		found = true
		value, _ := ident["value"].(string)
		if !nationalIDPattern.MatchString(value) {
			result.addError("INVALID_NATIONAL_ID", fmt.Sprintf("/identifier/%d/value", i),
				"national id must be exactly 10 digits")
		}
	}
	if !found {
		result.addWarning("MISSING_NATIONAL_ID", "/identifier",
			"patient carries no national-id identifier")
	}
}

// checkReference verifies that a reference field points at the expected
// resource type by its "Type/id" prefix.
func checkReference(value map[string]any, wantType, path string, result *ValidationResult) {
	ref, _ := value["reference"].(string)
	if ref == "" {
		result.addError("MISSING_REFERENCE", path, "reference is empty")
		return
	}
	if !strings.HasPrefix(ref, wantType+"/") {
		result.addError("WRONG_REFERENCE_TYPE", path,
			fmt.Sprintf("reference %q must target a %s", ref, wantType))
	}
}

func (v *Validator) validateCoverage(resource map[string]any, result *ValidationResult) {
	if beneficiary, ok := resource["beneficiary"].(map[string]any); ok {
		checkReference(beneficiary, "Patient", "/beneficiary", result)
	}
	if payors, ok := resource["payor"].([]any); ok {
		for i, raw := range payors {
			if payor, ok := raw.(map[string]any); ok {
				checkReference(payor, "Organization", fmt.Sprintf("/payor/%d", i), result)
			}
		}
	}
}

func (v *Validator) validateClaim(resource map[string]any, result *ValidationResult) {
	if patient, ok := resource["patient"].(map[string]any); ok {
		checkReference(patient, "Patient", "/patient", result)
	}
	if provider, ok := resource["provider"].(map[string]any); ok {
		checkReference(provider, "Organization", "/provider", result)
	}
	if insurances, ok := resource["insurance"].([]any); ok {
		for i, raw := range insurances {
			ins, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if coverage, ok := ins["coverage"].(map[string]any); ok {
				checkReference(coverage, "Coverage", fmt.Sprintf("/insurance/%d/coverage", i), result)
			}
		}
	}

	v.validateClaimItems(resource, result)
	v.validateClaimTotal(resource, result)
	v.validateClaimDiagnoses(resource, result)
}

func (v *Validator) validateClaimItems(resource map[string]any, result *ValidationResult) {
	items, _ := resource["item"].([]any)
	if len(items) == 0 {
		result.addError("EMPTY_ITEM_LIST", "/item", "claim must carry at least one item")
		return
	}
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("/item/%d", i)
		if qty, ok := item["quantity"].(map[string]any); ok {
			if value, ok := toFloat(qty["value"]); !ok || value <= 0 {
				result.addError("INVALID_ITEM_QUANTITY", path+"/quantity/value",
					"item quantity must be positive")
			}
		} else {
			result.addError("INVALID_ITEM_QUANTITY", path+"/quantity", "item has no quantity")
		}
		if price, ok := item["unitPrice"].(map[string]any); ok {
			if value, ok := toFloat(price["value"]); !ok || value < 0 {
				result.addError("INVALID_UNIT_PRICE", path+"/unitPrice/value",
					"item unit price must be non-negative")
			}
		} else {
			result.addError("INVALID_UNIT_PRICE", path+"/unitPrice", "item has no unit price")
		}
	}
}

func (v *Validator) validateClaimTotal(resource map[string]any, result *ValidationResult) {
	total, ok := resource["total"].(map[string]any)
	if !ok {
		return // absence is already a required-field error
	}
	if value, ok := toFloat(total["value"]); !ok || value < 0 {
		result.addError("INVALID_TOTAL", "/total/value", "claim total must be non-negative")
	}
	if currency, _ := total["currency"].(string); currency != "" && currency != DefaultCurrency {
		result.addWarning("UNEXPECTED_CURRENCY", "/total/currency",
			fmt.Sprintf("currency %q differs from the exchange default %s", currency, DefaultCurrency))
	}
}

func (v *Validator) validateClaimDiagnoses(resource map[string]any, result *ValidationResult) {
	diagnoses, _ := resource["diagnosis"].([]any)
	foundICD10 := false
	for _, raw := range diagnoses {
		diag, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		concept, _ := diag["diagnosisCodeableConcept"].(map[string]any)
		codings, _ := concept["coding"].([]any)
		for _, rawCoding := range codings {
			coding, ok := rawCoding.(map[string]any)
			if !ok {
				continue
			}
			if code, _ := coding["code"].(string); icd10Pattern.MatchString(code) {
				foundICD10 = true
			}
		}
	}
	if !foundICD10 {
		result.addWarning("MISSING_ICD10_DIAGNOSIS", "/diagnosis",
			"claim carries no ICD-10-shaped diagnosis code")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
