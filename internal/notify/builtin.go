package notify

// Template names.
const (
	SubjectTemplate = "subject.txt"
	BodyTemplate    = "body.txt"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	SubjectTemplate: subjectTemplate,
	BodyTemplate:    bodyTemplate,
}

const subjectTemplate = `[{{event_label}}] Pipeline: {{pipeline_name}}`

const bodyTemplate = `Pipeline {{event_title}}

Pipeline:     {{pipeline_name}}
Build:        #{{build_number}}
Event:        {{event_label}}
Status:       {{status}}
{{#if duration}}Duration:     {{duration}}
{{/if}}Triggered By: {{triggered_by}}
{{#if branch}}Branch:       {{branch}}
{{/if}}{{#if commit}}Commit:       {{commit}}
{{/if}}{{#if started_at}}Started At:   {{started_at}}
{{/if}}{{#if completed_at}}Completed At: {{completed_at}}
{{/if}}{{#if run_url}}
View run: {{run_url}}
{{/if}}{{#if logs}}Logs:     {{logs}}
{{/if}}
Sent by AutoFlow
`
