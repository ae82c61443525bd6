package terminology

import (
	"fmt"
	"strings"
)

// ValidatePayloadCodings recursively walks an arbitrary decoded-JSON
// payload and checks every coding found under a "coding" key against the
// catalog. A missing system or code is a warning; a registered system with
// an unregistered code is an error; an unknown system inside the NPHIES
// namespace is an error; unknown third-party systems are not flagged.
// When the catalog is unavailable the walk succeeds vacuously.
func (c *Catalog) ValidatePayloadCodings(payload any) *PayloadValidation {
	result := &PayloadValidation{
		Valid:    true,
		Errors:   []CodingIssue{},
		Warnings: []CodingIssue{},
	}
	if !c.Available() {
		return result
	}
	c.walk(payload, "", result)
	result.ErrorCount = len(result.Errors)
	result.WarningCount = len(result.Warnings)
	result.Valid = result.ErrorCount == 0
	return result
}

// walk visits every value of a decoded-JSON tree, checking arrays found
// under a "coding" key. The walk is type-generic so it works on any nested
// payload shape, modeled or not.
func (c *Catalog) walk(v any, path string, result *PayloadValidation) {
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			childPath := path + "/" + key
			if key == "coding" {
				if arr, ok := child.([]any); ok {
					for i, item := range arr {
						if coding, ok := item.(map[string]any); ok {
							c.checkCoding(coding, fmt.Sprintf("%s/%d", childPath, i), result)
						}
					}
					continue
				}
			}
			c.walk(child, childPath, result)
		}
	case []any:
		for i, item := range node {
			c.walk(item, fmt.Sprintf("%s/%d", path, i), result)
		}
	}
}

func (c *Catalog) checkCoding(coding map[string]any, path string, result *PayloadValidation) {
	result.CheckedCount++
	system, _ := coding["system"].(string)
	code, _ := coding["code"].(string)

	if system == "" {
		result.Warnings = append(result.Warnings, CodingIssue{
			Severity: "warning",
			Code:     CodeCodingMissingSystem,
			Path:     path,
			Message:  "coding has no system",
			Value:    code,
		})
		return
	}
	if code == "" {
		result.Warnings = append(result.Warnings, CodingIssue{
			Severity: "warning",
			Code:     CodeCodingMissingCode,
			Path:     path,
			Message:  "coding has no code",
			System:   system,
		})
		return
	}

	cs, known := c.systems[system]
	if known {
		if _, ok := cs.Codes[code]; !ok {
			result.Errors = append(result.Errors, CodingIssue{
				Severity: "error",
				Code:     CodeUnknownCode,
				Path:     path,
				Message:  fmt.Sprintf("code %s is not registered in %s", code, system),
				System:   system,
				Value:    code,
			})
		}
		return
	}
	if strings.HasPrefix(system, NphiesTerminologyNamespace) {
		result.Errors = append(result.Errors, CodingIssue{
			Severity: "error",
			Code:     CodeUnknownNphiesCodeSystem,
			Path:     path,
			Message:  fmt.Sprintf("system %s is in the NPHIES namespace but not part of the published terminology", system),
			System:   system,
			Value:    code,
		})
	}
	// Unknown systems outside the NPHIES namespace belong to third parties
	// and are not flagged.
}
