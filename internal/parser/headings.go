package parser

import (
	"strings"
	"unicode"
)

type field int

const (
	fieldNone field = iota
	fieldTitle
	fieldPriority
	fieldEnvironment
	fieldAssistiveTech
	fieldPage
	fieldSteps
	fieldActual
	fieldExpected
	fieldImpact
	fieldFix
	fieldWCAG
)

// headingFields maps normalized heading variants to template fields.
var headingFields = map[string]field{
	"title":        fieldTitle,
	"defect title": fieldTitle,
	"issue title":  fieldTitle,
	"summary":      fieldTitle,

	"priority": fieldPriority,
	"severity": fieldPriority,

	"os browser":         fieldEnvironment,
	"os browser version": fieldEnvironment,
	"os app version":     fieldEnvironment,
	"os":                 fieldEnvironment,
	"browser":            fieldEnvironment,
	"platform":           fieldEnvironment,
	"platforms":          fieldEnvironment,
	"environment":        fieldEnvironment,
	"device":             fieldEnvironment,

	"screen reader":           fieldAssistiveTech,
	"screen readers":          fieldAssistiveTech,
	"assistive technology":    fieldAssistiveTech,
	"assistive tech":          fieldAssistiveTech,
	"screen reader version":   fieldAssistiveTech,
	"assistive technology at": fieldAssistiveTech,

	"page":        fieldPage,
	"page screen": fieldPage,
	"page url":    fieldPage,
	"url":         fieldPage,
	"screen":      fieldPage,
	"location":    fieldPage,

	"steps to reproduce": fieldSteps,
	"steps to repro":     fieldSteps,
	"steps":              fieldSteps,
	"repro steps":        fieldSteps,
	"reproduction steps": fieldSteps,
	"steps to replicate": fieldSteps,

	"actual result":    fieldActual,
	"actual results":   fieldActual,
	"actual":           fieldActual,
	"actual behavior":  fieldActual,
	"actual behaviour": fieldActual,

	"expected result":    fieldExpected,
	"expected results":   fieldExpected,
	"expected":           fieldExpected,
	"expected behavior":  fieldExpected,
	"expected behaviour": fieldExpected,

	"user impact":     fieldImpact,
	"pwd impact":      fieldImpact,
	"impact":          fieldImpact,
	"impact on users": fieldImpact,

	"suggested fix":      fieldFix,
	"suggested fixes":    fieldFix,
	"fix":                fieldFix,
	"suggested solution": fieldFix,
	"recommendation":     fieldFix,
	"remediation":        fieldFix,

	"wcag reference":  fieldWCAG,
	"wcag references": fieldWCAG,
	"wcag":            fieldWCAG,
	"wcag criterion":  fieldWCAG,
	"wcag criteria":   fieldWCAG,
	"wcag sc":         fieldWCAG,
	"reference":       fieldWCAG,
	"references":      fieldWCAG,
}

func lookupField(label string) field {
	return headingFields[normalizeLabel(label)]
}

// normalizeLabel lower-cases label and collapses every run of non-letters
// into one space: "OS/Browser" → "os browser", "PWD Impact" → "pwd impact".
func normalizeLabel(label string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}
