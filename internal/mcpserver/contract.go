package mcpserver

// TemplateContract describes the fixed defect report template that LLM
// consumers should follow when submitting reports.
const TemplateContract = `# Accessibility Defect Report Template

Every report file submitted to the ledger MUST follow this structure.
A file may hold several defects separated by ` + "`" + `---` + "`" + ` or ` + "`" + `## Defect N` + "`" + ` headings.

## Structure

` + "```" + `markdown
---
report_id: sprint-12-web            # OPTIONAL – provenance token (defaults to the file path)
reported_at: 2025-01-15             # OPTIONAL – ISO-8601 date
platform: Windows 11 / Chrome       # OPTIONAL – default OS/Browser for every defect
---

### Title
A11y_<criterion> – <Platform> – <Page> – <symptom>

### Priority
Low | Medium | High | Critical

### OS/Browser
<os> / <browser or app version>

### Screen Reader
<name> <version>                    # OPTIONAL

### Page
<URL or screen name>

### Steps to Reproduce
1. First step
2. Second step

### Actual Result
What happens today.

### Expected Result
What should happen.

### User Impact
Who is blocked and how.

### Suggested Fix
How to fix it.

### WCAG Reference
- <criterion id or Understanding URL>
` + "```" + `

## Rules

1. **Required sections:** Title, Priority, OS/Browser, Page, Steps to Reproduce,
   Actual Result, Expected Result, User Impact, Suggested Fix, WCAG Reference.
   Screen Reader is optional.
2. **Priority** is one of Low, Medium, High, Critical (case-insensitive).
3. **WCAG Reference** lists at least one criterion. Accepted forms are a criterion id
   (` + "`" + `4.1.2` + "`" + `, ` + "`" + `SC 1.4.3` + "`" + `) or a WCAG Understanding URL
   (` + "`" + `https://www.w3.org/WAI/WCAG22/Understanding/name-role-value.html` + "`" + `).
   The first reference is the primary criterion used for deduplication.
4. **Steps** are a numbered or bulleted list with at least one entry.
5. **Headings** may also be written as bold labels (` + "`" + `**Actual Result:**` + "`" + `) or
   plain ` + "`" + `Label:` + "`" + ` lines.
6. **File names** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
7. **Encoding** is UTF-8.

## Merging

Reports of the same defect on the same page and criterion are merged into one
canonical record: the highest priority wins, findings from each report are kept,
and every source file is recorded. Records that are too close to call are queued
as conflicts (see list_conflicts) instead of being merged.

## Example

` + "```" + `markdown
### Title
A11y_4.1.2 Name, Role, Value – iOS – Checkout Page – Place order button not announced

### Priority
High

### OS/Browser
iOS 18 / Safari

### Screen Reader
VoiceOver

### Page
https://www.example.com/checkout/

### Steps to Reproduce
1. Open the checkout page
2. Swipe to the Place order button

### Actual Result
VoiceOver announces the button as "button".

### Expected Result
VoiceOver announces "Place order, button".

### User Impact
Blind users cannot complete a purchase.

### Suggested Fix
Add an accessible name to the button.

### WCAG Reference
- https://www.w3.org/WAI/WCAG22/Understanding/name-role-value.html
` + "```" + `
`
