package fhir

import "testing"

func validPatient() map[string]any {
	return map[string]any{
		"resourceType": "Patient",
		"id":           "pat-1",
		"identifier": []any{
			map[string]any{"system": NationalIDSystem, "value": "1023456789"},
		},
	}
}

func validCoverage() map[string]any {
	return map[string]any{
		"resourceType": "Coverage",
		"status":       "active",
		"beneficiary":  map[string]any{"reference": "Patient/pat-1"},
		"payor":        []any{map[string]any{"reference": "Organization/payer-1"}},
	}
}

func validClaim() map[string]any {
	return map[string]any{
		"resourceType": "Claim",
		"status":       "active",
		"type": map[string]any{"coding": []any{
			map[string]any{"system": "http://nphies.sa/terminology/CodeSystem/claim-type", "code": "institutional"},
		}},
		"patient":  map[string]any{"reference": "Patient/pat-1"},
		"provider": map[string]any{"reference": "Organization/provider-1"},
		"insurance": []any{
			map[string]any{"coverage": map[string]any{"reference": "Coverage/cov-1"}},
		},
		"diagnosis": []any{
			map[string]any{"diagnosisCodeableConcept": map[string]any{"coding": []any{
				map[string]any{"system": "http://hl7.org/fhir/sid/icd-10", "code": "R07.1"},
			}}},
		},
		"item": []any{
			map[string]any{
				"quantity":  map[string]any{"value": float64(2)},
				"unitPrice": map[string]any{"value": float64(150), "currency": "SAR"},
			},
		},
		"total": map[string]any{"value": float64(300), "currency": "SAR"},
	}
}

func hasIssue(issues []Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestValidPatient(t *testing.T) {
	result := NewValidator().ValidateResource(validPatient())
	if !result.IsValid() {
		t.Fatalf("expected valid patient, got %+v", result.Errors)
	}
}

func TestPatientMalformedNationalIDIsError(t *testing.T) {
	patient := validPatient()
	patient["identifier"] = []any{
		map[string]any{"system": NationalIDSystem, "value": "12345"},
	}
	result := NewValidator().ValidateResource(patient)
	if !hasIssue(result.Errors, "INVALID_NATIONAL_ID") {
		t.Errorf("expected INVALID_NATIONAL_ID error, got %+v", result.Errors)
	}
}

func TestPatientMissingNationalIDIsOnlyWarning(t *testing.T) {
	patient := validPatient()
	patient["identifier"] = []any{
		map[string]any{"system": "http://hospital.example/mrn", "value": "MRN-1"},
	}
	result := NewValidator().ValidateResource(patient)
	if !result.IsValid() {
		t.Errorf("other identifier systems are tolerated, got errors %+v", result.Errors)
	}
	if !hasIssue(result.Warnings, "MISSING_NATIONAL_ID") {
		t.Errorf("expected MISSING_NATIONAL_ID warning, got %+v", result.Warnings)
	}
}

func TestMissingRequiredFieldIsError(t *testing.T) {
	claim := validClaim()
	delete(claim, "provider")
	result := NewValidator().ValidateResource(claim)
	if !hasIssue(result.Errors, "MISSING_REQUIRED_FIELD") {
		t.Errorf("expected MISSING_REQUIRED_FIELD, got %+v", result.Errors)
	}
}

func TestCoverageReferenceTargets(t *testing.T) {
	coverage := validCoverage()
	coverage["beneficiary"] = map[string]any{"reference": "Practitioner/x"}
	result := NewValidator().ValidateResource(coverage)
	if !hasIssue(result.Errors, "WRONG_REFERENCE_TYPE") {
		t.Errorf("expected WRONG_REFERENCE_TYPE, got %+v", result.Errors)
	}
}

func TestClaimReferencePrefixes(t *testing.T) {
	claim := validClaim()
	claim["insurance"] = []any{
		map[string]any{"coverage": map[string]any{"reference": "Claim/wrong"}},
	}
	result := NewValidator().ValidateResource(claim)
	if !hasIssue(result.Errors, "WRONG_REFERENCE_TYPE") {
		t.Errorf("expected WRONG_REFERENCE_TYPE for insurance coverage, got %+v", result.Errors)
	}
}

func TestClaimEmptyItemListIsError(t *testing.T) {
	claim := validClaim()
	claim["item"] = []any{}
	result := NewValidator().ValidateResource(claim)
	if !hasIssue(result.Errors, "EMPTY_ITEM_LIST") {
		t.Errorf("expected EMPTY_ITEM_LIST, got %+v", result.Errors)
	}
}

func TestClaimItemQuantityAndPrice(t *testing.T) {
	claim := validClaim()
	claim["item"] = []any{
		map[string]any{
			"quantity":  map[string]any{"value": float64(0)},
			"unitPrice": map[string]any{"value": float64(-5)},
		},
	}
	result := NewValidator().ValidateResource(claim)
	if !hasIssue(result.Errors, "INVALID_ITEM_QUANTITY") {
		t.Errorf("expected INVALID_ITEM_QUANTITY, got %+v", result.Errors)
	}
	if !hasIssue(result.Errors, "INVALID_UNIT_PRICE") {
		t.Errorf("expected INVALID_UNIT_PRICE, got %+v", result.Errors)
	}
}

func TestClaimCurrencyMismatchIsWarning(t *testing.T) {
	claim := validClaim()
	claim["total"] = map[string]any{"value": float64(300), "currency": "USD"}
	result := NewValidator().ValidateResource(claim)
	if !result.IsValid() {
		t.Fatalf("currency mismatch must not be an error: %+v", result.Errors)
	}
	if !hasIssue(result.Warnings, "UNEXPECTED_CURRENCY") {
		t.Errorf("expected UNEXPECTED_CURRENCY warning, got %+v", result.Warnings)
	}
}

func TestClaimNegativeTotalIsError(t *testing.T) {
	claim := validClaim()
	claim["total"] = map[string]any{"value": float64(-1), "currency": "SAR"}
	result := NewValidator().ValidateResource(claim)
	if !hasIssue(result.Errors, "INVALID_TOTAL") {
		t.Errorf("expected INVALID_TOTAL, got %+v", result.Errors)
	}
}

func TestClaimMissingICD10DiagnosisIsWarning(t *testing.T) {
	claim := validClaim()
	delete(claim, "diagnosis")
	result := NewValidator().ValidateResource(claim)
	if !result.IsValid() {
		t.Fatalf("missing diagnosis must not be an error: %+v", result.Errors)
	}
	if !hasIssue(result.Warnings, "MISSING_ICD10_DIAGNOSIS") {
		t.Errorf("expected MISSING_ICD10_DIAGNOSIS warning, got %+v", result.Warnings)
	}
}

func TestMissingResourceType(t *testing.T) {
	result := NewValidator().ValidateResource(map[string]any{"status": "active"})
	if result.IsValid() || !hasIssue(result.Errors, "MISSING_RESOURCE_TYPE") {
		t.Errorf("expected MISSING_RESOURCE_TYPE, got %+v", result.Errors)
	}
}

func TestUnrecognizedResourceTypePasses(t *testing.T) {
	result := NewValidator().ValidateResource(map[string]any{"resourceType": "Appointment"})
	if !result.IsValid() {
		t.Errorf("unmodeled resource types must pass, got %+v", result.Errors)
	}
	if !hasIssue(result.Info, "UNCHECKED_RESOURCE_TYPE") {
		t.Errorf("expected UNCHECKED_RESOURCE_TYPE info, got %+v", result.Info)
	}
}
