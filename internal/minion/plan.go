package minion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/agentoven/legion/pkg/models"
)

// ErrMalformedPlan wraps every perception result that does not decode into
// a complete PerceptionPlan.
var ErrMalformedPlan = errors.New("malformed perception plan")

// flexInt accepts integral JSON numbers and numeric strings ("1200").
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%s is not a number", b)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("%s is not an integer", b)
	}
	*n = flexInt(f)
	return nil
}

type rawOpinionUpdate struct {
	ParticipantName *string  `json:"participantName"`
	NewScore        *flexInt `json:"newScore"`
	ReasonForChange *string  `json:"reasonForChange"`
}

type rawPlan struct {
	PerceptionAnalysis    *string             `json:"perceptionAnalysis"`
	OpinionUpdates        *[]rawOpinionUpdate `json:"opinionUpdates"`
	FinalOpinions         map[string]flexInt  `json:"finalOpinions"`
	SelectedResponseMode  *string             `json:"selectedResponseMode"`
	PersonalNotes         *string             `json:"personalNotes"`
	Action                *string             `json:"action"`
	ResponsePlan          *string             `json:"responsePlan"`
	PredictedResponseTime *flexInt            `json:"predictedResponseTime"`
}

// ParsePlan decodes model output into a PerceptionPlan. A surrounding
// markdown code fence is tolerated; every field except personalNotes is
// required.
func ParsePlan(text string) (*models.PerceptionPlan, error) {
	text = stripFence(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedPlan)
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	var missing []string
	if raw.PerceptionAnalysis == nil {
		missing = append(missing, "perceptionAnalysis")
	}
	if raw.OpinionUpdates == nil {
		missing = append(missing, "opinionUpdates")
	}
	if raw.FinalOpinions == nil {
		missing = append(missing, "finalOpinions")
	}
	if raw.SelectedResponseMode == nil {
		missing = append(missing, "selectedResponseMode")
	}
	if raw.Action == nil {
		missing = append(missing, "action")
	}
	if raw.ResponsePlan == nil {
		missing = append(missing, "responsePlan")
	}
	if raw.PredictedResponseTime == nil {
		missing = append(missing, "predictedResponseTime")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedPlan, strings.Join(missing, ", "))
	}

	action := models.PerceptionAction(strings.ToUpper(strings.TrimSpace(*raw.Action)))
	if action != models.ActionSpeak && action != models.ActionStaySilent {
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedPlan, *raw.Action)
	}
	if *raw.PredictedResponseTime < 0 {
		return nil, fmt.Errorf("%w: negative predictedResponseTime %d", ErrMalformedPlan, *raw.PredictedResponseTime)
	}

	plan := &models.PerceptionPlan{
		DiaryState: models.DiaryState{
			PerceptionAnalysis:   *raw.PerceptionAnalysis,
			OpinionUpdates:       make([]models.OpinionUpdate, 0, len(*raw.OpinionUpdates)),
			FinalOpinions:        make(map[string]int, len(raw.FinalOpinions)),
			SelectedResponseMode: strings.TrimSpace(*raw.SelectedResponseMode),
		},
		Action:                action,
		ResponsePlan:          *raw.ResponsePlan,
		PredictedResponseTime: int(*raw.PredictedResponseTime),
	}
	if raw.PersonalNotes != nil {
		plan.PersonalNotes = *raw.PersonalNotes
	}
	for i, u := range *raw.OpinionUpdates {
		if u.ParticipantName == nil || u.NewScore == nil || u.ReasonForChange == nil {
			return nil, fmt.Errorf("%w: opinionUpdates[%d] is incomplete", ErrMalformedPlan, i)
		}
		plan.OpinionUpdates = append(plan.OpinionUpdates, models.OpinionUpdate{
			ParticipantName: *u.ParticipantName,
			NewScore:        int(*u.NewScore),
			ReasonForChange: *u.ReasonForChange,
		})
	}
	for name, score := range raw.FinalOpinions {
		plan.FinalOpinions[name] = int(score)
	}
	return plan, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	return strings.TrimSpace(strings.TrimSuffix(text, "```"))
}
