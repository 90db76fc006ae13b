package provision

import (
	"io"
	"text/template"
	"time"
)

// reportTemplate renders the Markdown integration report.
var reportTemplate = template.Must(template.New("report").Parse(`# Agent Template Integration

Generated: {{.Generated}}

## Overview

Total agents integrated: {{len .Agents}}

### Agent Mapping

| Template Agent | Host Agent | Capabilities | Playbooks |
|----------------|------------|--------------|-----------|
{{- range .Agents}}
| {{.TemplateName}} | {{.HostName}} | {{.Capabilities}} | {{.PlaybookCount}} |
{{- end}}

## Template Package Location

` + "```" + `
{{.Root}}
` + "```" + `

## Security

All result deliveries are signed with HMAC-SHA256 over
agent, timestamp, and body. Each agent holds its own secret;
signatures are regenerated per attempt and never replayed.
`))

type reportData struct {
	Generated string
	Root      string
	Agents    []Agent
}

// WriteReport renders the integration report for the provisioned agents.
func WriteReport(w io.Writer, root string, agents []Agent) error {
	return reportTemplate.Execute(w, reportData{
		Generated: time.Now().Format(time.DateOnly),
		Root:      root,
		Agents:    agents,
	})
}
