package replicator

import (
	"fmt"

	"github.com/Ramsey-B/sundew/pkg/models"
)

// StateMachineStep is one unit of the resumable onboarding protocol. The
// calculate functions on a connector are pure: the same integration state
// always produces the same step, so the protocol survives process restarts
// and is safe to poll.
type StateMachineStep struct {
	NeedsInput     bool   `json:"needs_input"`
	Complete       bool   `json:"complete"`
	Prompt         string `json:"prompt"`
	PromptIsSecret bool   `json:"prompt_is_secret"`
	PostToURL      string `json:"post_to_url"`
	FieldName      string `json:"field_name"`
	Output         string `json:"output"`
}

// Prompting marks the step as requiring operator input for a plain value.
func (s *StateMachineStep) Prompting(prompt string) *StateMachineStep {
	s.NeedsInput = true
	s.Complete = false
	s.Prompt = prompt
	s.PromptIsSecret = false
	return s
}

// SecretPrompt marks the step as requiring operator input that should not be
// echoed.
func (s *StateMachineStep) SecretPrompt(prompt string) *StateMachineStep {
	s.Prompting(prompt)
	s.PromptIsSecret = true
	return s
}

// CollectingField routes the operator's answer back to ProcessStateChange for
// the named integration field.
func (s *StateMachineStep) CollectingField(si *models.ServiceIntegration, field string) *StateMachineStep {
	s.FieldName = field
	s.PostToURL = fmt.Sprintf("/v1/service_integrations/%s/transition/%s", si.OpaqueID, field)
	return s
}

// Completed marks the step terminal. Output should already carry the final
// instructions (webhook URL, signing secret) before calling this.
func (s *StateMachineStep) Completed() *StateMachineStep {
	s.Complete = true
	s.NeedsInput = false
	s.Prompt = ""
	s.PromptIsSecret = false
	s.PostToURL = ""
	s.FieldName = ""
	return s
}
