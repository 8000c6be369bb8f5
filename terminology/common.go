package terminology

// loadCommonCodeSystems loads code systems that StructureDefinitions bind
// to most often.
func (m *Memory) loadCommonCodeSystems() {
	m.addCodeSystem("http://hl7.org/fhir/administrative-gender", map[string]string{
		"male":    "Male",
		"female":  "Female",
		"other":   "Other",
		"unknown": "Unknown",
	})

	m.addCodeSystem("http://terminology.hl7.org/CodeSystem/v2-0136", map[string]string{
		"Y": "Yes",
		"N": "No",
	})

	m.addCodeSystem("http://hl7.org/fhir/contact-point-system", map[string]string{
		"phone": "Phone",
		"fax":   "Fax",
		"email": "Email",
		"pager": "Pager",
		"url":   "URL",
		"sms":   "SMS",
		"other": "Other",
	})

	m.addCodeSystem("http://hl7.org/fhir/name-use", map[string]string{
		"usual":     "Usual",
		"official":  "Official",
		"temp":      "Temp",
		"nickname":  "Nickname",
		"anonymous": "Anonymous",
		"old":       "Old",
		"maiden":    "Maiden",
	})

	m.addCodeSystem("http://hl7.org/fhir/observation-status", map[string]string{
		"registered":       "Registered",
		"preliminary":      "Preliminary",
		"final":            "Final",
		"amended":          "Amended",
		"corrected":        "Corrected",
		"cancelled":        "Cancelled",
		"entered-in-error": "Entered in Error",
		"unknown":          "Unknown",
	})

	m.addCodeSystem("http://hl7.org/fhir/publication-status", map[string]string{
		"draft":   "Draft",
		"active":  "Active",
		"retired": "Retired",
		"unknown": "Unknown",
	})

	// definition-level vocabularies
	m.addCodeSystem("http://hl7.org/fhir/binding-strength", map[string]string{
		"required":   "Required",
		"extensible": "Extensible",
		"preferred":  "Preferred",
		"example":    "Example",
	})

	m.addCodeSystem("http://hl7.org/fhir/constraint-severity", map[string]string{
		"error":   "Error",
		"warning": "Warning",
	})

	m.addCodeSystem("http://hl7.org/fhir/structure-definition-kind", map[string]string{
		"primitive-type": "Primitive Data Type",
		"complex-type":   "Complex Data Type",
		"resource":       "Resource",
		"logical":        "Logical",
	})

	m.addCodeSystem("http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", map[string]string{
		"A": "Annulled",
		"D": "Divorced",
		"I": "Interlocutory",
		"L": "Legally Separated",
		"M": "Married",
		"P": "Polygamous",
		"S": "Never Married",
		"T": "Domestic partner",
		"U": "unmarried",
		"W": "Widowed",
	})
}
