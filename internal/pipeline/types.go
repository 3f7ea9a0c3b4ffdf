// Package pipeline implements the consensus pipeline orchestrator
// (spec.md §4.F) as a Temporal workflow + activities. Grounded on the
// teacher's internal/workflows/simple_workflow.go (ActivityOptions/
// RetryPolicy/workflow.ExecuteActivity idiom, workflow.GetVersion-gated
// determinism, detached contexts for fire-and-forget persistence) and
// internal/registry/registry.go's registrar shape, trimmed here to the
// single ConsensusWorkflow + RunStageActivity this module needs.
package pipeline

import "github.com/hivetechs/consensus/internal/consensustypes"

// ConsensusInput starts one pipeline run.
type ConsensusInput struct {
	ConversationID string
	Query          string
	ProfileName    string
	UserID         string
	Context        string // injected repository context, if any
}

// ResolveProfileInput/Output, CheckUsageInput/Output, CheckBudgetInput/Output,
// and RunStageInput/Output are the activity payloads; kept in their own
// structs (rather than reusing consensustypes directly everywhere) so
// activity signatures stay Temporal-serializable value types.

type ResolveProfileInput struct {
	ProfileName string
}

type ResolveProfileOutput struct {
	Profile consensustypes.ConsensusProfile
}

type CheckUsageInput struct {
	UserID string
}

type CheckUsageOutput struct {
	Allowed      bool
	Notification *consensustypes.Notification
}

type CheckBudgetInput struct {
	Profile consensustypes.ConsensusProfile
}

type CheckBudgetOutput struct {
	Allowed bool
}

// CheckAPIKeyOutput is pre-flight step 1's payload (spec.md §4.F: "Validate
// API key presence; else NoApiKey"). It takes no input — the key is a
// process-wide gateway credential, not something the caller supplies.
type CheckAPIKeyOutput struct {
	Present bool
}

// CheckPolicyInput is CheckPolicy's payload: enough of the incoming request
// for an OPA admission decision (query content, requesting user, the
// resolved profile name) without threading the whole ConsensusInput through.
type CheckPolicyInput struct {
	ConversationID string
	Query          string
	ProfileName    string
	UserID         string
}

type CheckPolicyOutput struct {
	Allowed bool
	Reason  string
}

// RunStageInput is RunStageActivity's payload: the combination of stage
// identity, the accumulated prior answer, and the profile entry for that
// stage, per spec.md §4.E.
type RunStageInput struct {
	ConversationID string
	Stage          consensustypes.Stage
	Query          string
	Prior          string
	Context        string
	Entry          consensustypes.ProfileEntry
}

type RunStageOutput struct {
	Result consensustypes.StageResult
}

type RecordUsageInput struct {
	UserID         string
	ConversationID string
}

type EmitProfileLoadedInput struct {
	ConversationID string
	ProfileName    string
	Models         []string
}

type EmitOutcomeInput struct {
	ConversationID string
	Completed      bool
	Cancelled      bool
	Reason         string
	ErrorMessage   string
}
