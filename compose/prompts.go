package compose

import (
	"fmt"
	"strings"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/internal/util"
)

const resumeSystem = "You are an expert resume writer. You write Typst markup " +
	"and reply with the complete document source only, no commentary and no code fences."

const secondarySystem = "You are an expert career writer. You reply with the " +
	"requested document text only, no commentary."

const resumePromptTemplate = `Write a tailored resume for the position below.

{{.Facts}}
Job posting:
{{.Posting}}

{{if .BaseContent}}Candidate material, the only source of factual claims:
{{.BaseContent}}

{{end}}{{if .Hints}}Style hints: {{.Hints}}

{{end}}Requirements:
- Output Typst markup for a complete, compilable document.
- The compiled document must be exactly {{.TargetPages}} page(s) long.
- Select and rephrase from the candidate material; never invent employers, titles or dates.`

const adjustLengthTemplate = `Your previous resume draft compiled to {{.MeasuredPages}} pages, but the target is exactly {{.TargetPages}} page(s).

{{if gt .MeasuredPages .TargetPages}}Condense the draft: tighten phrasing and drop the least relevant detail. Do not remove whole sections or truncate meaning.{{else}}Expand the draft with relevant detail from the material already present. Do not pad with filler.{{end}}

Previous draft:
{{.Previous}}

Reply with the complete revised Typst document only.`

const fixMarkupTemplate = `Your previous resume draft failed to compile.

Compiler diagnostics:
{{.Diagnostics}}

Fix the markup error and keep the content otherwise unchanged. The compiled document must be exactly {{.TargetPages}} page(s) long.

Previous draft:
{{.Previous}}

Reply with the complete corrected Typst document only.`

const coverLetterTemplate = `Write a one-page cover letter for the position below.

{{.Facts}}
{{if .ResumeText}}Resume the letter must stay consistent with:
{{.ResumeText}}

{{end}}Requirements:
- Address the company directly and reference the role.
- Three to five short paragraphs, plain text.
- Ground every claim in the resume; never invent facts.`

const coldEmailTemplate = `Write a short cold outreach email for the position below.

{{.Facts}}
{{if .ResumeText}}Resume to draw from:
{{.ResumeText}}

{{end}}Requirements:
- Subject line first, prefixed "Subject: ".
- At most 150 words after the subject.
- Specific and grounded in the resume; never invent facts.`

// buildResumePrompt renders the base prompt on a first attempt and a
// corrective prompt afterwards: fix-markup when the previous attempt
// failed to compile, adjust-length when it compiled to the wrong page
// count. The previous measured page count is threaded forward
// explicitly, never through hidden conversation state.
func buildResumePrompt(in Input, hints string, target int, prev *attempt) (string, error) {
	if prev == nil {
		return util.RenderTemplate(resumePromptTemplate, map[string]any{
			"Facts":       in.Job.Facts(),
			"Posting":     in.Job.Posting,
			"BaseContent": in.BaseContent,
			"Hints":       hints,
			"TargetPages": target,
		})
	}

	if prev.compileErr != nil {
		diagnostics := prev.compileErr.Output
		if diagnostics == "" {
			diagnostics = prev.compileErr.Error()
		}
		return util.RenderTemplate(fixMarkupTemplate, map[string]any{
			"Diagnostics": excerpt(diagnostics, 2000),
			"TargetPages": target,
			"Previous":    string(prev.content),
		})
	}

	return util.RenderTemplate(adjustLengthTemplate, map[string]any{
		"MeasuredPages": prev.pageCount,
		"TargetPages":   target,
		"Previous":      string(prev.content),
	})
}

func secondaryPrompt(kind core.DocumentKind, job core.JobContext, resumeText string) (string, error) {
	var tmpl string
	switch kind {
	case core.DocumentCoverLetter:
		tmpl = coverLetterTemplate
	case core.DocumentColdEmail:
		tmpl = coldEmailTemplate
	default:
		return "", fmt.Errorf("no prompt for document kind %q", kind)
	}

	return util.RenderTemplate(tmpl, map[string]any{
		"Facts":      job.Facts(),
		"ResumeText": resumeText,
	})
}

func label(kind core.DocumentKind) string {
	switch kind {
	case core.DocumentCoverLetter:
		return "cover letter"
	case core.DocumentColdEmail:
		return "cold email"
	default:
		return string(kind)
	}
}

// cleanMarkup strips a wrapping markdown code fence from a model reply.
// Providers occasionally fence the document despite the system prompt.
func cleanMarkup(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}

	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	} else {
		t = strings.TrimPrefix(t, "```")
	}

	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")

	return strings.TrimSpace(t)
}

// excerpt caps diagnostics carried into a corrective prompt.
func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
