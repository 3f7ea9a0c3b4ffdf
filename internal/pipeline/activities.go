package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/costtracker"
	"github.com/hivetechs/consensus/internal/eventbus"
	"github.com/hivetechs/consensus/internal/modelregistry"
	"github.com/hivetechs/consensus/internal/policy"
	"github.com/hivetechs/consensus/internal/stageexec"
	"github.com/hivetechs/consensus/internal/usagetracker"
)

// costHeuristicInTokens/OutTokens are spec.md §4.F's pre-flight cost
// estimate assumption: 2000 prompt tokens, 1000 completion tokens per stage.
const (
	costHeuristicInTokens  = 2000
	costHeuristicOutTokens = 1000
)

// Activities is the Temporal activity receiver combining the registry (H),
// usage tracker (D), cost tracker (B), stage executor (A+B+C+G), and event
// bus (G) into the building blocks ConsensusWorkflow calls through
// workflow.ExecuteActivity.
type Activities struct {
	registry *modelregistry.Registry
	usage    *usagetracker.Tracker
	cost     *costtracker.Tracker
	exec     *stageexec.Executor
	bus      *eventbus.Bus
	policy   policy.Engine
	logger   *zap.Logger
}

// NewActivities builds an Activities receiver from its collaborators. policy
// may be nil, in which case CheckPolicy always allows (admission control is
// an optional pre-flight gate, not a required one).
func NewActivities(registry *modelregistry.Registry, usage *usagetracker.Tracker, cost *costtracker.Tracker, exec *stageexec.Executor, bus *eventbus.Bus, policyEngine policy.Engine, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{registry: registry, usage: usage, cost: cost, exec: exec, bus: bus, policy: policyEngine, logger: logger}
}

// CheckAPIKey is pre-flight step 1: validate the gateway API key is present
// before any other pre-flight check runs or any model is contacted.
func (a *Activities) CheckAPIKey(ctx context.Context) (CheckAPIKeyOutput, error) {
	return CheckAPIKeyOutput{Present: a.exec.HasAPIKey()}, nil
}

// CheckPolicy is pre-flight step 2: consult the OPA admission engine before
// any model is contacted. A nil or disabled engine always allows.
func (a *Activities) CheckPolicy(ctx context.Context, in CheckPolicyInput) (CheckPolicyOutput, error) {
	if a.policy == nil || !a.policy.IsEnabled() {
		return CheckPolicyOutput{Allowed: true}, nil
	}
	decision, err := a.policy.Evaluate(ctx, &policy.PolicyInput{
		SessionID:   in.ConversationID,
		UserID:      in.UserID,
		Query:       in.Query,
		Mode:        in.ProfileName,
		Environment: a.policy.Environment(),
	})
	if err != nil {
		return CheckPolicyOutput{}, fmt.Errorf("policy evaluation: %w", err)
	}
	return CheckPolicyOutput{Allowed: decision.Allow, Reason: decision.Reason}, nil
}

// ResolveProfile is pre-flight step 3: resolve the named profile into its
// four (model, temperature, max_tokens) bindings.
func (a *Activities) ResolveProfile(ctx context.Context, in ResolveProfileInput) (ResolveProfileOutput, error) {
	profile, err := a.registry.Profile(in.ProfileName)
	if err != nil {
		return ResolveProfileOutput{}, err
	}
	return ResolveProfileOutput{Profile: profile}, nil
}

// EmitProfileLoaded is pre-flight step 4.
func (a *Activities) EmitProfileLoaded(ctx context.Context, in EmitProfileLoadedInput) error {
	a.bus.Publish(in.ConversationID, eventbus.Event{
		Type:    eventbus.EventProfileLoaded,
		Message: fmt.Sprintf("profile %s loaded", in.ProfileName),
		Payload: map[string]interface{}{"models": in.Models},
	})
	return nil
}

// CheckUsage is pre-flight step 5: consult the usage tracker (D).
func (a *Activities) CheckUsage(ctx context.Context, in CheckUsageInput) (CheckUsageOutput, error) {
	allowed, notification := a.usage.CheckUsage(in.UserID)
	return CheckUsageOutput{Allowed: allowed, Notification: notification}, nil
}

// CheckBudget is pre-flight step 6: estimate total pipeline cost using the
// 2000-in/1000-out heuristic per stage and consult the cost tracker (B).
func (a *Activities) CheckBudget(ctx context.Context, in CheckBudgetInput) (CheckBudgetOutput, error) {
	var total float64
	for _, entry := range in.Profile.Entries {
		estimate := a.cost.Estimate(entry.ModelID, costHeuristicInTokens, costHeuristicOutTokens)
		total += estimate.TotalCost
	}
	return CheckBudgetOutput{Allowed: a.cost.CheckBudget(total)}, nil
}

// RunStage executes one stage of the pipeline (spec.md §4.E), delegating to
// the stage executor which itself drives A, B, C, and G.
func (a *Activities) RunStage(ctx context.Context, in RunStageInput) (RunStageOutput, error) {
	result, err := a.exec.Run(ctx, in.ConversationID, in.Stage, in.Query, in.Prior, in.Context, in.Entry)
	if err != nil {
		return RunStageOutput{}, err
	}
	return RunStageOutput{Result: result}, nil
}

// RecordUsage is the post-completion D.record(user, conv_id) call; it must
// not run for cancelled or failed pipelines per spec.md §4.F.
func (a *Activities) RecordUsage(ctx context.Context, in RecordUsageInput) error {
	a.usage.RecordUsage(in.UserID)
	return nil
}

// EmitOutcome publishes the pipeline's terminal event: completed, cancelled,
// or error, per spec.md §4.G's taxonomy.
func (a *Activities) EmitOutcome(ctx context.Context, in EmitOutcomeInput) error {
	switch {
	case in.Cancelled:
		a.bus.Publish(in.ConversationID, eventbus.Event{Type: eventbus.EventCancelled, Reason: in.Reason})
	case in.Completed:
		a.bus.Publish(in.ConversationID, eventbus.Event{Type: eventbus.EventCompleted})
	default:
		a.bus.Publish(in.ConversationID, eventbus.Event{Type: eventbus.EventError, Message: in.ErrorMessage})
	}
	return nil
}

