package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/jobrunr-app/taskforge/internal/domain"
)

// Prompt templates per task type. Each receives the raw input snapshot as
// pretty-printed JSON; the model is instructed to answer with JSON only so
// the result can be stored as an opaque payload.
const (
	cvRewritePrompt = `You are an expert CV writer. Rewrite the CV below so it is tailored
to the target job while staying strictly truthful to the original experience.

Input (JSON with "cv" and "job" fields):
{{.Snapshot}}

Respond with JSON only, in the shape:
{"cv": "<the rewritten CV as markdown>", "highlights": ["<change 1>", "<change 2>"]}`

	atsAnalysisPrompt = `You are an applicant tracking system (ATS) specialist. Analyze how well
the CV below matches the target job description.

Input (JSON with "cv" and "job" fields):
{{.Snapshot}}

Respond with JSON only, in the shape:
{"score": <0-100>, "matched_keywords": [...], "missing_keywords": [...], "suggestions": [...]}`

	coverLetterPrompt = `You are a professional career coach. Write a concise, specific cover
letter for the application below. Do not invent experience.

Input (JSON with "cv", "job" and optional "notes" fields):
{{.Snapshot}}

Respond with JSON only, in the shape:
{"cover_letter": "<the letter as markdown>"}`
)

// promptData is the template context for all prompt templates.
type promptData struct {
	Snapshot string
}

// promptTemplates maps task types to their parsed prompt templates.
var promptTemplates = map[domain.TaskType]*template.Template{
	domain.TaskTypeCVRewrite:   template.Must(template.New("cv_rewrite").Parse(cvRewritePrompt)),
	domain.TaskTypeATSAnalysis: template.Must(template.New("ats_analysis").Parse(atsAnalysisPrompt)),
	domain.TaskTypeCoverLetter: template.Must(template.New("cover_letter").Parse(coverLetterPrompt)),
}

// buildPrompt renders the prompt for the given task type and input snapshot.
func buildPrompt(taskType domain.TaskType, inputSnapshot json.RawMessage) (string, error) {
	tmpl, ok := promptTemplates[taskType]
	if !ok {
		return "", fmt.Errorf("no prompt template for task type %q", taskType)
	}

	// Re-indent the snapshot so the model sees well-formed JSON even when
	// the stored blob is compact.
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, inputSnapshot, "", "  "); err != nil {
		return "", fmt.Errorf("input snapshot is not valid JSON: %w", err)
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, promptData{Snapshot: pretty.String()}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	return out.String(), nil
}
