package pipeline

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/costtracker"
	"github.com/hivetechs/consensus/internal/eventbus"
	"github.com/hivetechs/consensus/internal/modelregistry"
	"github.com/hivetechs/consensus/internal/policy"
	"github.com/hivetechs/consensus/internal/stageexec"
	"github.com/hivetechs/consensus/internal/usagetracker"
)

// Registrar registers ConsensusWorkflow and its activities on a Temporal
// worker, trimmed down from the teacher's OrchestratorRegistry to the
// single workflow and handful of named activities this pipeline needs.
type Registrar struct {
	registry *modelregistry.Registry
	usage    *usagetracker.Tracker
	cost     *costtracker.Tracker
	exec     *stageexec.Executor
	bus      *eventbus.Bus
	policy   policy.Engine
	logger   *zap.Logger
}

// NewRegistrar builds a Registrar from the pipeline's collaborators.
// policyEngine may be nil to skip admission control entirely.
func NewRegistrar(registry *modelregistry.Registry, usage *usagetracker.Tracker, cost *costtracker.Tracker, exec *stageexec.Executor, bus *eventbus.Bus, policyEngine policy.Engine, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{registry: registry, usage: usage, cost: cost, exec: exec, bus: bus, policy: policyEngine, logger: logger}
}

// RegisterWorkflows registers ConsensusWorkflow.
func (r *Registrar) RegisterWorkflows(w worker.Worker) error {
	r.logger.Info("registering consensus workflows")
	w.RegisterWorkflow(ConsensusWorkflow)
	return nil
}

// RegisterActivities registers the pipeline's named activities against a
// single Activities receiver, mirroring the teacher's
// RegisterActivityWithOptions(acts.Method, activity.RegisterOptions{Name: "..."})
// idiom so workflow code can reference activities by string name.
func (r *Registrar) RegisterActivities(w worker.Worker) error {
	r.logger.Info("registering consensus activities")
	acts := NewActivities(r.registry, r.usage, r.cost, r.exec, r.bus, r.policy, r.logger)

	w.RegisterActivityWithOptions(acts.CheckAPIKey, activity.RegisterOptions{Name: "CheckAPIKey"})
	w.RegisterActivityWithOptions(acts.CheckPolicy, activity.RegisterOptions{Name: "CheckPolicy"})
	w.RegisterActivityWithOptions(acts.ResolveProfile, activity.RegisterOptions{Name: "ResolveProfile"})
	w.RegisterActivityWithOptions(acts.EmitProfileLoaded, activity.RegisterOptions{Name: "EmitProfileLoaded"})
	w.RegisterActivityWithOptions(acts.CheckUsage, activity.RegisterOptions{Name: "CheckUsage"})
	w.RegisterActivityWithOptions(acts.CheckBudget, activity.RegisterOptions{Name: "CheckBudget"})
	w.RegisterActivityWithOptions(acts.RunStage, activity.RegisterOptions{Name: "RunStage"})
	w.RegisterActivityWithOptions(acts.RecordUsage, activity.RegisterOptions{Name: "RecordUsage"})
	w.RegisterActivityWithOptions(acts.EmitOutcome, activity.RegisterOptions{Name: "EmitOutcome"})
	return nil
}
