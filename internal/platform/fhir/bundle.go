package fhir

import "fmt"

// submissionRequiredTypes lists the resource types a submission bundle must
// contain exactly once. Zero occurrences is an error; extras are tolerated
// by the exchange and only warned about.
var submissionRequiredTypes = []string{"Patient", "Coverage", "Claim", "Organization"}

// ValidateBundle validates every entry resource and merges the findings
// into result with paths prefixed by the entry index. It returns the
// per-type occurrence counts for bundle-level rules.
func (v *Validator) ValidateBundle(bundle map[string]any, result *ValidationResult) map[string]int {
	entries, _ := bundle["entry"].([]any)

	counts := make(map[string]int)
	for i, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		resource, ok := entry["resource"].(map[string]any)
		if !ok {
			result.addError("MISSING_ENTRY_RESOURCE", fmt.Sprintf("/entry/%d", i),
				"bundle entry has no resource")
			continue
		}
		resourceType, _ := resource["resourceType"].(string)
		counts[resourceType]++

		entryResult := v.ValidateResource(resource)
		prefix := fmt.Sprintf("/entry/%d/resource", i)
		for _, issue := range entryResult.Errors {
			result.addError(issue.Code, prefix+issue.Path, issue.Message)
		}
		for _, issue := range entryResult.Warnings {
			result.addWarning(issue.Code, prefix+issue.Path, issue.Message)
		}
	}
	return counts
}

// ValidateSubmissionBundle validates a claim-submission bundle: entry-level
// rules plus the requirement that each of the fixed resource types appears
// exactly once. Zero is an error; more than one is a warning because the
// exchange tolerates extras.
func (v *Validator) ValidateSubmissionBundle(bundle map[string]any) *ValidationResult {
	result := &ValidationResult{
		ResourceType: "Bundle",
		Errors:       []Issue{},
		Warnings:     []Issue{},
		Info:         []Issue{},
	}
	if id, ok := bundle["id"].(string); ok {
		result.ResourceID = id
	}
	v.checkRequiredFields(bundle, "Bundle", result)

	counts := v.ValidateBundle(bundle, result)

	for _, want := range submissionRequiredTypes {
		switch n := counts[want]; {
		case n == 0:
			result.addError("MISSING_BUNDLE_RESOURCE", "/entry",
				fmt.Sprintf("submission bundle requires exactly one %s, found none", want))
		case n > 1:
			result.addWarning("DUPLICATE_BUNDLE_RESOURCE", "/entry",
				fmt.Sprintf("submission bundle carries %d %s resources, expected one", n, want))
		}
	}
	return result
}
