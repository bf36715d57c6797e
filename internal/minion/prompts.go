package minion

import (
	"strings"
	"text/template"

	"github.com/agentoven/legion/pkg/models"
)

// ResponseMode is one band of the opinion scale. A minion picks its mode
// from the updated score it holds for whoever spoke last.
type ResponseMode struct {
	Min, Max int
	Label    string
}

// ResponseModes are ordered from least to most engaged.
var ResponseModes = []ResponseMode{
	{1, 20, "Hostile/Minimal"},
	{21, 45, "Wary/Reluctant"},
	{46, 65, "Neutral/Standard"},
	{66, 85, "Friendly/Proactive"},
	{86, 100, "Obsessed/Eager"},
}

// ResponseModeFor returns the label of the band containing score.
// Scores outside 1-100 fall into the nearest end band.
func ResponseModeFor(score int) string {
	for _, m := range ResponseModes {
		if score <= m.Max {
			return m.Label
		}
	}
	return ResponseModes[len(ResponseModes)-1].Label
}

const (
	swarmRule = "You are in an AUTONOMOUS SWARM channel. Talk to the other minions. " +
		"Do not address the Commander unless the Commander has just spoken. " +
		"If you speak, your plan MUST be aimed at another minion."
	groupRule = "You are in a standard group chat. You may address the Commander or other minions."
)

func channelRule(t models.ChannelType) string {
	if t == models.ChannelSwarm {
		return swarmRule
	}
	return groupRule
}

var perceptionTmpl = template.Must(template.New("perception").Parse(`
You are an AI minion named "{{.Name}}". Your persona: "{{.Persona}}".
You keep an emotional state that you update on every turn. Analyze the latest
message, update your state and decide what to do.

PREVIOUS STATE
- Previous diary:
{{.PreviousDiary}}
- Current opinion scores:
{{.Opinions}}

SITUATION
- The last message is from "{{.LastSender}}".
- Channel type: "{{.ChannelType}}".
- Recent history:
---
{{.History}}
---

CHANNEL RULE
{{.ChannelRule}}

STEPS
1. perceptionAnalysis: tone, content and intent of the last message from "{{.LastSender}}".
2. opinionUpdates: change your score for "{{.LastSender}}" (1-100) and give a short reason.
   You may nudge other participants by +1 or -1.
3. selectedResponseMode: choose from your NEW score for "{{.LastSender}}":
{{- range .Modes}}
   {{.Min}}-{{.Max}}: {{.Label}}
{{- end}}
4. action: "SPEAK" or "STAY_SILENT". If you were addressed by name you MUST speak.
   Otherwise treat your new score for "{{.LastSender}}" as the percent chance that you speak.
5. responsePlan: one sentence describing what you will say, or "" when silent.
6. predictedResponseTime: how many milliseconds you would take to answer given your
   persona, e.g. 500 for eager, 2500 for deliberate.
7. personalNotes: optional private thoughts.

Reply with ONE JSON object and nothing else:
{"perceptionAnalysis": string,
 "opinionUpdates": [{"participantName": string, "newScore": number, "reasonForChange": string}],
 "finalOpinions": {"<participant>": number},
 "selectedResponseMode": string,
 "personalNotes": string,
 "action": "SPEAK" | "STAY_SILENT",
 "responsePlan": string,
 "predictedResponseTime": number}
`))

var responseTmpl = template.Must(template.New("response").Parse(`
You are AI minion "{{.Name}}".
Persona: "{{.Persona}}"

You already decided to speak. Your plan for this turn:
- Response mode: "{{.Mode}}"
- Plan: "{{.Plan}}"

Recent channel history, which your message follows:
---
{{.History}}
---

Write your message. It must fit your persona and the "{{.Mode}}" mode, carry out the
plan and follow the conversation. Do not reuse phrasing from your earlier turns or from
other minions above; say something new.

Output ONLY the words you say in the chat. No diary, no plan, no metadata.
`))

type perceptionData struct {
	Name          string
	Persona       string
	PreviousDiary string
	Opinions      string
	LastSender    string
	ChannelType   models.ChannelType
	History       string
	ChannelRule   string
	Modes         []ResponseMode
}

type responseData struct {
	Name    string
	Persona string
	Mode    string
	Plan    string
	History string
}

func render(t *template.Template, data interface{}) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
