package pipeline

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// stageActivityOptions bounds each stage activity: a stage streams a full
// model completion, so it gets a generous timeout and minimal Temporal-level
// retries (RunStage itself already walks the model's fallback chain).
var stageActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 5 * time.Minute,
	RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
}

// preflightActivityOptions bounds the fast pre-flight checks.
var preflightActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
}

// fireAndForgetOptions bounds best-effort event emission; failures here must
// never fail the pipeline itself.
var fireAndForgetOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 10 * time.Second,
	RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
}

// ConsensusWorkflow runs the four-stage Generator→Refiner→Validator→Curator
// pipeline (spec.md §4.F): a pre-flight sequence (API key check, policy
// admission, profile resolution, usage and budget checks) followed by the
// stage loop, with cancellation observed between stages and failure aborting
// with the stage prefix that completed.
func ConsensusWorkflow(ctx workflow.Context, input ConsensusInput) (consensustypes.ConsensusResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting consensus workflow",
		"conversation_id", input.ConversationID,
		"profile", input.ProfileName,
		"user_id", input.UserID,
	)

	start := workflow.Now(ctx)
	emitCtx := workflow.WithActivityOptions(ctx, fireAndForgetOptions)
	preflightCtx := workflow.WithActivityOptions(ctx, preflightActivityOptions)
	stageCtx := workflow.WithActivityOptions(ctx, stageActivityOptions)

	// Step 1: validate the gateway API key is present.
	var apiKeyOut CheckAPIKeyOutput
	if err := workflow.ExecuteActivity(preflightCtx, "CheckAPIKey").Get(ctx, &apiKeyOut); err != nil {
		return failedResult(nil, err.Error()), nil
	}
	if !apiKeyOut.Present {
		msg := "api key missing or empty"
		emitOutcome(emitCtx, ctx, input.ConversationID, false, false, "", msg)
		return failedResult(nil, msg), nil
	}

	// Step 2: consult the policy admission engine.
	var policyOut CheckPolicyOutput
	if err := workflow.ExecuteActivity(preflightCtx, "CheckPolicy", CheckPolicyInput{
		ConversationID: input.ConversationID,
		Query:          input.Query,
		ProfileName:    input.ProfileName,
		UserID:         input.UserID,
	}).Get(ctx, &policyOut); err != nil {
		return failedResult(nil, err.Error()), nil
	}
	if !policyOut.Allowed {
		msg := "denied by policy"
		if policyOut.Reason != "" {
			msg = policyOut.Reason
		}
		emitOutcome(emitCtx, ctx, input.ConversationID, false, false, "", msg)
		return failedResult(nil, msg), nil
	}

	// Step 3: resolve the named profile into its four model bindings.
	var resolved ResolveProfileOutput
	if err := workflow.ExecuteActivity(preflightCtx, "ResolveProfile", ResolveProfileInput{ProfileName: input.ProfileName}).Get(ctx, &resolved); err != nil {
		return failedResult(nil, err.Error()), nil
	}
	profile := resolved.Profile

	// Step 4: emit profile_loaded.
	models := make([]string, 0, len(profile.Entries))
	for _, e := range profile.Entries {
		models = append(models, e.ModelID)
	}
	_ = workflow.ExecuteActivity(emitCtx, "EmitProfileLoaded", EmitProfileLoadedInput{
		ConversationID: input.ConversationID,
		ProfileName:    profile.Name,
		Models:         models,
	}).Get(ctx, nil)

	// Step 5: consult the usage tracker.
	var usageOut CheckUsageOutput
	if err := workflow.ExecuteActivity(preflightCtx, "CheckUsage", CheckUsageInput{UserID: input.UserID}).Get(ctx, &usageOut); err != nil {
		return failedResult(nil, err.Error()), nil
	}
	if !usageOut.Allowed {
		msg := "usage limit exceeded"
		if usageOut.Notification != nil {
			msg = usageOut.Notification.Message
		}
		emitOutcome(emitCtx, ctx, input.ConversationID, false, false, "", msg)
		return failedResult(nil, msg), nil
	}

	// Step 6: estimate total cost across all four stages and consult budget.
	var budgetOut CheckBudgetOutput
	if err := workflow.ExecuteActivity(preflightCtx, "CheckBudget", CheckBudgetInput{Profile: profile}).Get(ctx, &budgetOut); err != nil {
		return failedResult(nil, err.Error()), nil
	}
	if !budgetOut.Allowed {
		msg := "budget exceeded"
		emitOutcome(emitCtx, ctx, input.ConversationID, false, false, "", msg)
		return failedResult(nil, msg), nil
	}

	// Main loop: Generator -> Refiner -> Validator -> Curator, observing
	// cancellation between stages.
	var stages []consensustypes.StageResult
	prior := ""
	for _, stage := range consensustypes.Stages {
		if err := ctx.Err(); err != nil {
			emitOutcome(emitCtx, ctx, input.ConversationID, false, true, "context cancelled", "")
			return failedResult(stages, "pipeline cancelled"), nil
		}

		var out RunStageOutput
		err := workflow.ExecuteActivity(stageCtx, "RunStage", RunStageInput{
			ConversationID: input.ConversationID,
			Stage:          stage,
			Query:          input.Query,
			Prior:          prior,
			Context:        input.Context,
			Entry:          profile.Entries[stage],
		}).Get(ctx, &out)
		if err != nil {
			msg := fmt.Sprintf("stage %s failed: %v", stage, err)
			emitOutcome(emitCtx, ctx, input.ConversationID, false, false, "", msg)
			return failedResult(stages, msg), nil
		}

		stages = append(stages, out.Result)
		prior = out.Result.Answer
	}

	final := stages[len(stages)-1].Answer

	_ = workflow.ExecuteActivity(emitCtx, "RecordUsage", RecordUsageInput{
		UserID:         input.UserID,
		ConversationID: input.ConversationID,
	}).Get(ctx, nil)

	emitOutcome(emitCtx, ctx, input.ConversationID, true, false, "", "")

	return consensustypes.ConsensusResult{
		Success:              true,
		Result:               &final,
		Stages:               stages,
		ConversationID:       input.ConversationID,
		TotalDurationSeconds: workflow.Now(ctx).Sub(start).Seconds(),
	}, nil
}

// emitOutcome is a best-effort, fire-and-forget terminal event publish; it
// never returns an error to the caller.
func emitOutcome(emitCtx workflow.Context, ctx workflow.Context, conversationID string, completed, cancelled bool, reason, errMsg string) {
	_ = workflow.ExecuteActivity(emitCtx, "EmitOutcome", EmitOutcomeInput{
		ConversationID: conversationID,
		Completed:      completed,
		Cancelled:      cancelled,
		Reason:         reason,
		ErrorMessage:   errMsg,
	}).Get(ctx, nil)
}

// failedResult builds the failure-shaped ConsensusResult per spec.md §4.F:
// success=false, result=nil, error=Some(msg), stages=the prefix that
// completed before the failure.
func failedResult(stages []consensustypes.StageResult, msg string) consensustypes.ConsensusResult {
	return consensustypes.ConsensusResult{
		Success: false,
		Stages:  stages,
		Error:   &msg,
	}
}
