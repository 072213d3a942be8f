// Package validate enforces the required-field contract of a defect record.
package validate

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/models"
	"github.com/starford/a11yledger/internal/wcag"
)

// Field names reported in rejections.
const (
	FieldSource         = "source"
	FieldTitle          = "title"
	FieldPriority       = "priority"
	FieldEnvironment    = "environment"
	FieldPage           = "page"
	FieldSteps          = "steps"
	FieldActualResult   = "actualResult"
	FieldExpectedResult = "expectedResult"
	FieldUserImpact     = "userImpact"
	FieldSuggestedFix   = "suggestedFix"
	FieldWCAGRefs       = "wcagRefs"
)

var atVersionRe = regexp.MustCompile(`^(.*?)\s+v?(\d[\w.]*)$`)

var priorityRule = validation.By(func(v any) error {
	s, _ := v.(string)
	_, err := models.ParsePriority(s)
	return err
})

var refRule = validation.By(func(v any) error {
	s, _ := v.(string)
	if _, ok := wcag.ParseRef(s); !ok {
		return errors.New("not a WCAG Understanding URL or criterion id")
	}
	return nil
})

// Validate checks raw against the template schema. Fields are checked in a
// fixed order and the first failure is returned, so rejections are stable.
// Validate has no side effects.
func Validate(raw models.RawRecord) (models.DefectRecord, *apperr.Rejection) {
	steps := nonEmpty(raw.Steps)

	required := []struct {
		field string
		value any
	}{
		{FieldSource, strings.TrimSpace(raw.Source)},
		{FieldTitle, strings.TrimSpace(raw.Title)},
		{FieldPriority, strings.TrimSpace(raw.Priority)},
		{FieldEnvironment, strings.TrimSpace(raw.Environment)},
		{FieldPage, strings.TrimSpace(raw.Page)},
		{FieldSteps, steps},
		{FieldActualResult, strings.TrimSpace(raw.ActualResult)},
		{FieldExpectedResult, strings.TrimSpace(raw.ExpectedResult)},
		{FieldUserImpact, strings.TrimSpace(raw.UserImpact)},
		{FieldSuggestedFix, strings.TrimSpace(raw.SuggestedFix)},
	}
	for _, r := range required {
		if err := validation.Validate(r.value, validation.Required); err != nil {
			return models.DefectRecord{}, reject(raw, apperr.KindMissingField, r.field, err)
		}
		if r.field == FieldPriority {
			if err := validation.Validate(r.value, priorityRule); err != nil {
				return models.DefectRecord{}, reject(raw, apperr.KindInvalidEnum, r.field, err)
			}
		}
	}

	refs := Refs(raw.WCAGRefs)
	if err := validation.Validate(refs, validation.Required); err != nil {
		return models.DefectRecord{}, reject(raw, apperr.KindMissingWcagReference, FieldWCAGRefs, err)
	}

	priority, _ := models.ParsePriority(raw.Priority)
	return models.DefectRecord{
		Title:          strings.TrimSpace(raw.Title),
		Priority:       priority,
		Environment:    ParseEnvironment(raw.Environment),
		AssistiveTech:  ParseAssistiveTech(raw.AssistiveTech),
		Page:           strings.TrimSpace(raw.Page),
		Steps:          steps,
		ActualResult:   []string{strings.TrimSpace(raw.ActualResult)},
		ExpectedResult: []string{strings.TrimSpace(raw.ExpectedResult)},
		UserImpact:     []string{strings.TrimSpace(raw.UserImpact)},
		SuggestedFix:   []string{strings.TrimSpace(raw.SuggestedFix)},
		WCAGRefs:       refs,
		SourceReports:  []string{strings.TrimSpace(raw.Source)},
		ReportedAt:     strings.TrimSpace(raw.ReportedAt),
	}, nil
}

// Refs keeps the syntactically valid references of candidates in canonical
// form, sorted and unique.
func Refs(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		if validation.Validate(c, validation.Required, refRule) != nil {
			continue
		}
		ref, _ := wcag.ParseRef(c)
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// ParseEnvironment splits "Android 15 / Ver.2025.23.0" into OS and version.
// Lists of platforms ("Windows 11/Chrome, iOS/Safari") are kept whole as OS.
func ParseEnvironment(s string) models.Environment {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, " / "); i >= 0 {
		return models.Environment{
			OS:                  strings.TrimSpace(s[:i]),
			BrowserOrAppVersion: strings.TrimSpace(s[i+3:]),
		}
	}
	if !strings.Contains(s, ",") {
		if os, browser, ok := strings.Cut(s, "/"); ok {
			return models.Environment{
				OS:                  strings.TrimSpace(os),
				BrowserOrAppVersion: strings.TrimSpace(browser),
			}
		}
	}
	return models.Environment{OS: s}
}

// ParseAssistiveTech splits "VoiceOver 17.2" into name and version.
func ParseAssistiveTech(s string) models.AssistiveTech {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.AssistiveTech{}
	}
	if !strings.Contains(s, ",") {
		if m := atVersionRe.FindStringSubmatch(s); m != nil {
			return models.AssistiveTech{Name: m[1], Version: m[2]}
		}
	}
	return models.AssistiveTech{Name: s}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func reject(raw models.RawRecord, kind apperr.Kind, field string, err error) *apperr.Rejection {
	return &apperr.Rejection{
		Kind:   kind,
		Field:  field,
		Source: raw.Source,
		Detail: err.Error(),
	}
}
