package fhir

import "testing"

func submissionBundle() map[string]any {
	return map[string]any{
		"resourceType": "Bundle",
		"type":         "message",
		"entry": []any{
			map[string]any{"resource": validPatient()},
			map[string]any{"resource": validCoverage()},
			map[string]any{"resource": validClaim()},
			map[string]any{"resource": map[string]any{"resourceType": "Organization", "name": "Provider Hospital"}},
		},
	}
}

func TestValidSubmissionBundle(t *testing.T) {
	result := NewValidator().ValidateSubmissionBundle(submissionBundle())
	if !result.IsValid() {
		t.Fatalf("expected valid bundle, got %+v", result.Errors)
	}
}

func TestSubmissionBundleMissingResourceIsError(t *testing.T) {
	bundle := submissionBundle()
	bundle["entry"] = []any{
		map[string]any{"resource": validPatient()},
		map[string]any{"resource": validCoverage()},
		map[string]any{"resource": map[string]any{"resourceType": "Organization", "name": "Provider Hospital"}},
	}
	result := NewValidator().ValidateSubmissionBundle(bundle)
	if !hasIssue(result.Errors, "MISSING_BUNDLE_RESOURCE") {
		t.Errorf("expected MISSING_BUNDLE_RESOURCE for absent Claim, got %+v", result.Errors)
	}
}

func TestSubmissionBundleDuplicateResourceIsWarning(t *testing.T) {
	bundle := submissionBundle()
	bundle["entry"] = append(bundle["entry"].([]any),
		map[string]any{"resource": validPatient()})
	result := NewValidator().ValidateSubmissionBundle(bundle)
	if !result.IsValid() {
		t.Fatalf("extras are tolerated, got errors %+v", result.Errors)
	}
	if !hasIssue(result.Warnings, "DUPLICATE_BUNDLE_RESOURCE") {
		t.Errorf("expected DUPLICATE_BUNDLE_RESOURCE warning, got %+v", result.Warnings)
	}
}

func TestBundleEntryIssuesArePrefixed(t *testing.T) {
	bundle := submissionBundle()
	badClaim := validClaim()
	badClaim["item"] = []any{}
	bundle["entry"].([]any)[2] = map[string]any{"resource": badClaim}

	result := NewValidator().ValidateSubmissionBundle(bundle)
	found := false
	for _, issue := range result.Errors {
		if issue.Code == "EMPTY_ITEM_LIST" && issue.Path == "/entry/2/resource/item" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected entry-prefixed EMPTY_ITEM_LIST, got %+v", result.Errors)
	}
}

func TestBundleEntryWithoutResource(t *testing.T) {
	bundle := submissionBundle()
	bundle["entry"] = append(bundle["entry"].([]any), map[string]any{"fullUrl": "urn:uuid:x"})
	result := NewValidator().ValidateSubmissionBundle(bundle)
	if !hasIssue(result.Errors, "MISSING_ENTRY_RESOURCE") {
		t.Errorf("expected MISSING_ENTRY_RESOURCE, got %+v", result.Errors)
	}
}
