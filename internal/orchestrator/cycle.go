package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/pool"
	"github.com/nextlevelbuilder/hivemind/internal/prompt"
	"github.com/nextlevelbuilder/hivemind/internal/store"
	"github.com/nextlevelbuilder/hivemind/internal/tracing"
	"github.com/nextlevelbuilder/hivemind/internal/vcs"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

// CycleResult is the outcome of one agent run loop.
type CycleResult struct {
	Success         bool
	TaskID          *uuid.UUID
	Duration        time.Duration
	Err             error
	NoTaskAvailable bool
}

// BudgetSettings mirrors the org budget gate consulted before each brain
// invocation.
type BudgetSettings struct {
	DailyCents   float64
	MonthlyCents float64
	AlertPercent int
	StopPercent  int
}

// Orchestrator runs the per-agent cycle: pull, execute, validate, route.
type Orchestrator struct {
	stores      *store.Stores
	pool        *pool.Pool
	runner      *brain.Runner
	workspaces  *workspace.Manager
	injector    *prompt.Injector
	distributor *Distributor
	reviewer    *Reviewer
	escalator   *Escalator
	delegator   *Delegator
	gate        *QualityGate
	prs         vcs.PullRequestAPI
	publisher   bus.Publisher

	brainCfg BrainSettings
	inRate   float64
	outRate  float64
	maxRetry int

	budgetMu sync.RWMutex
	budget   BudgetSettings
}

// SetBudget swaps the budget gate settings. Used by config hot reload.
func (o *Orchestrator) SetBudget(b BudgetSettings) {
	o.budgetMu.Lock()
	o.budget = b
	o.budgetMu.Unlock()
}

func (o *Orchestrator) budgetSettings() BudgetSettings {
	o.budgetMu.RLock()
	defer o.budgetMu.RUnlock()
	return o.budget
}

// Options bundles construction inputs for the orchestrator.
type Options struct {
	Stores      *store.Stores
	Pool        *pool.Pool
	Runner      *brain.Runner
	Workspaces  *workspace.Manager
	Injector    *prompt.Injector
	Distributor *Distributor
	Reviewer    *Reviewer
	Escalator   *Escalator
	Delegator   *Delegator
	Gate        *QualityGate
	PullRequest vcs.PullRequestAPI
	Publisher   bus.Publisher
	Brain       BrainSettings
	Budget      BudgetSettings
	InputRate   float64
	OutputRate  float64
	MaxRetry    int
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		stores:      opts.Stores,
		pool:        opts.Pool,
		runner:      opts.Runner,
		workspaces:  opts.Workspaces,
		injector:    opts.Injector,
		distributor: opts.Distributor,
		reviewer:    opts.Reviewer,
		escalator:   opts.Escalator,
		delegator:   opts.Delegator,
		gate:        opts.Gate,
		prs:         opts.PullRequest,
		publisher:   opts.Publisher,
		brainCfg:    opts.Brain,
		budget:      opts.Budget,
		inRate:      opts.InputRate,
		outRate:     opts.OutputRate,
		maxRetry:    opts.MaxRetry,
	}
}

// RunCycle drives one agent through at most one task. The scheduler gates on
// org permission before calling; the cycle re-checks so a stop that landed
// mid-tick is honored.
func (o *Orchestrator) RunCycle(ctx context.Context, agentID uuid.UUID) CycleResult {
	start := time.Now()
	finish := func(r CycleResult) CycleResult {
		r.Duration = time.Since(start)
		return r
	}

	agent, err := o.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return finish(CycleResult{Err: fmt.Errorf("cycle: load agent: %w", err)})
	}
	org, err := o.stores.Orgs.Get(ctx, agent.OrgID)
	if err != nil {
		return finish(CycleResult{Err: fmt.Errorf("cycle: load org: %w", err)})
	}
	if !org.AutonomousExecutionEnabled {
		return finish(CycleResult{NoTaskAvailable: true})
	}

	// Only the orchestrator moves idle -> working; a lost CAS means another
	// cycle already owns this agent.
	if err := o.stores.Agents.SetStatus(ctx, agentID, store.AgentStatusIdle, store.AgentStatusWorking); err != nil {
		return finish(CycleResult{NoTaskAvailable: true})
	}
	defer o.restoreIdle(ctx, agentID)

	ctx, span := tracing.Start(ctx, "cycle", attribute.String("agent", agent.Name))
	defer span.End()

	pullCtx, pullSpan := tracing.Start(ctx, "cycle.pull")
	claimed, err := o.pool.PullNext(pullCtx, agent)
	pullSpan.End()
	if err != nil {
		return finish(CycleResult{Err: fmt.Errorf("cycle: pull: %w", err)})
	}
	if claimed == nil {
		return finish(CycleResult{NoTaskAvailable: true})
	}
	task := claimed.Task
	taskID := task.ID
	_ = o.stores.Agents.Update(ctx, agentID, map[string]any{"current_task_id": taskID})
	defer func() {
		_ = o.stores.Agents.Update(ctx, agentID, map[string]any{"current_task_id": nil})
	}()

	if claimed.Class == pool.ClassReviewDue {
		_ = o.stores.Agents.Update(ctx, agentID, map[string]any{"status": store.AgentStatusReviewing})
		if err := o.reviewer.Review(ctx, task, agent); err != nil {
			return finish(CycleResult{TaskID: &taskID, Err: err})
		}
		return finish(CycleResult{Success: true, TaskID: &taskID})
	}

	// Team epics never enter the pool queries; this guard catches a
	// direct-assigned one slipping through and hands it to the manager path.
	if task.Type == store.TaskTypeTeamEpic {
		if err := o.pool.Release(ctx, taskID); err != nil {
			return finish(CycleResult{TaskID: &taskID, Err: err})
		}
		if err := o.distributor.Distribute(ctx, task, agent); err != nil {
			return finish(CycleResult{TaskID: &taskID, Err: err})
		}
		return finish(CycleResult{Success: true, TaskID: &taskID})
	}

	err = o.executeTask(ctx, org, agent, task)
	if err != nil {
		return finish(CycleResult{TaskID: &taskID, Err: err})
	}
	return finish(CycleResult{Success: true, TaskID: &taskID})
}

// executeTask carries one claimed task through complexity check, workspace
// creation, brain invocation, quality gate, and pull request. Failures route
// through the escalator by kind.
func (o *Orchestrator) executeTask(ctx context.Context, org *store.OrganizationData, agent *store.AgentData, task *store.TaskData) error {
	composeCtx, composeSpan := tracing.Start(ctx, "cycle.compose")
	in, err := loadComposeInput(composeCtx, o.stores, o.injector, task, agent,
		knowledgeBudgetChars(o.brainCfg.ContextLimitTokens))
	composeSpan.End()
	if err != nil {
		return err
	}
	input := prompt.Compose(in)
	estimate := brain.EstimateCost(input, "", o.inRate, o.outRate)

	if o.delegator.IsComplex(task, estimate.InputTokens) && task.Depth < store.MaxTaskDepth {
		err := o.delegator.Delegate(ctx, task, agent)
		if err == nil {
			return nil
		}
		// A depth refusal means process sequentially; other failures route.
		if Classify(err) != KindDepthExceeded {
			return o.routeFailure(ctx, task, agent, err)
		}
		slog.Debug("delegation refused, running sequentially", "task_id", task.ID, "reason", err)
	}

	if err := o.checkBudget(ctx, org, estimate); err != nil {
		return err
	}

	var ws *workspace.Workspace
	var project *store.ProjectData
	if task.ProjectID != nil {
		project, err = o.stores.Projects.Get(ctx, *task.ProjectID)
		if err != nil {
			return o.routeFailure(ctx, task, agent, fmt.Errorf("cycle: load project: %w", err))
		}
		ws, err = o.workspaces.Create(ctx, project.WorkingDirectory, project.IntegrationBranch, agent.ID, agent.Name, task.ID)
		if err != nil {
			return o.routeFailure(ctx, task, agent, err)
		}
		// A worktree surviving this function means the task reached
		// in_review; cleanup then happens on the merge notification.
	}

	dir := ""
	if ws != nil {
		dir = ws.Path
	}
	invokeCtx, invokeSpan := tracing.Start(ctx, "cycle.invoke")
	res, err := o.runner.Invoke(invokeCtx, org.ID, brain.InvokeRequest{
		Command: o.brainCfg.Command,
		Args:    o.brainCfg.Args,
		Input:   input,
		Dir:     dir,
		Timeout: o.brainCfg.Timeout,
	})
	invokeSpan.End()
	o.recordCost(ctx, org.ID, agent.ID, task.ID, estimate)
	if err != nil {
		o.cleanup(ctx, ws)
		return o.routeFailure(ctx, task, agent, err)
	}

	parsed := brain.Parse(res.Stdout)
	if res.ExitCode != 0 || parsed.HasError {
		o.cleanup(ctx, ws)
		return o.routeFailure(ctx, task, agent,
			Errf(KindProvider, "brain failed: exit %d: %s", res.ExitCode, firstLine(parsed.Text)))
	}

	if ws != nil {
		gateCtx, gateSpan := tracing.Start(ctx, "cycle.gate")
		gateErr := o.gate.Run(gateCtx, ws.Path)
		gateSpan.End()
		if gateErr != nil {
			return o.handleGateFailure(ctx, task, agent, ws, gateErr)
		}
		return o.openPullRequest(ctx, task, agent, project, ws)
	}

	// Tasks without a project have no code artifact; the brain output is the
	// deliverable and the task completes directly.
	if err := o.stores.Tasks.Complete(ctx, task.ID); err != nil {
		return fmt.Errorf("cycle: complete: %w", err)
	}
	return o.afterCompletion(ctx, task, agent)
}

// handleGateFailure bumps retryCount and releases the task while retry budget
// remains, escalating at team level once exhausted.
func (o *Orchestrator) handleGateFailure(ctx context.Context, task *store.TaskData, agent *store.AgentData, ws *workspace.Workspace, gateErr error) error {
	retries := task.RetryCount + 1
	if err := o.stores.Tasks.Update(ctx, task.ID, map[string]any{
		"retry_count":   retries,
		"error_message": gateErr.Error(),
	}); err != nil {
		return err
	}
	o.cleanup(ctx, ws)
	if retries < o.maxRetry {
		slog.Warn("quality gate failed, releasing task",
			"task_id", task.ID, "retry", retries, "max", o.maxRetry)
		return o.pool.Release(ctx, task.ID)
	}
	task.RetryCount = retries
	_, err := o.escalator.Escalate(ctx, task, agent, "", gateErr.Error(), LevelTeam)
	return err
}

// openPullRequest pushes the branch, creates the PR, binds the
// TaskPullRequest record, and parks the task in in_review.
func (o *Orchestrator) openPullRequest(ctx context.Context, task *store.TaskData, agent *store.AgentData, project *store.ProjectData, ws *workspace.Workspace) error {
	if err := o.workspaces.Push(ctx, ws); err != nil {
		o.cleanup(ctx, ws)
		return o.routeFailure(ctx, task, agent, fmt.Errorf("cycle: push: %w", err))
	}
	pr, err := o.prs.Create(ctx, vcs.CreateRequest{
		Dir:    ws.Path,
		Branch: ws.Branch,
		Base:   project.IntegrationBranch,
		Title:  task.Title,
		Body:   task.Description,
	})
	if err != nil {
		o.cleanup(ctx, ws)
		return o.routeFailure(ctx, task, agent, fmt.Errorf("cycle: create pr: %w", err))
	}
	if err := o.stores.PullRequests.Create(ctx, &store.TaskPullRequestData{
		TaskID: task.ID,
		PRID:   pr.ID,
		Branch: ws.Branch,
		Status: store.PRStatusOpen,
	}); err != nil {
		return err
	}
	if err := o.stores.Tasks.Update(ctx, task.ID, map[string]any{
		"status": store.TaskStatusInReview,
	}); err != nil {
		return err
	}
	slog.Info("pull request opened", "task_id", task.ID, "pr", pr.ID, "branch", ws.Branch)
	return nil
}

// OnPRMerged finishes a task whose pull request merged: completes it,
// removes the worktree, retires any temporary helpers, and raises the parent
// to ready_for_review when every sibling is done. Driven by the scheduler's
// merge sweep.
func (o *Orchestrator) OnPRMerged(ctx context.Context, rec *store.TaskPullRequestData) error {
	task, err := o.stores.Tasks.Get(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if err := o.stores.Tasks.Complete(ctx, task.ID); err != nil {
		return err
	}
	if err := o.stores.PullRequests.Update(ctx, rec.ID, map[string]any{
		"status": store.PRStatusMerged,
	}); err != nil {
		return err
	}

	if task.AssignedAgentID != nil && task.ProjectID != nil {
		if project, err := o.stores.Projects.Get(ctx, *task.ProjectID); err == nil {
			ws := &workspace.Workspace{
				Path:        workspace.WorktreePath(project.WorkingDirectory, *task.AssignedAgentID, task.ID),
				Branch:      rec.Branch,
				ProjectRoot: project.WorkingDirectory,
			}
			o.cleanup(ctx, ws)
		}
	}

	var agent *store.AgentData
	if task.AssignedAgentID != nil {
		agent, _ = o.stores.Agents.Get(ctx, *task.AssignedAgentID)
	}
	return o.afterCompletion(ctx, task, agent)
}

// afterCompletion handles post-completion bookkeeping: parent goes
// ready_for_review once all siblings settled, a review request goes out on
// the bus, temporary helpers retire. A parent whose subtasks were all
// cancelled produced nothing and is not promoted.
func (o *Orchestrator) afterCompletion(ctx context.Context, task *store.TaskData, agent *store.AgentData) error {
	if agent != nil {
		if err := o.delegator.CleanupTemporaries(ctx, agent.ID); err != nil {
			slog.Warn("temporary cleanup failed", "agent", agent.Name, "error", err)
		}
	}
	if task.ParentTaskID == nil {
		return nil
	}
	siblings, err := o.stores.Tasks.ListSubtasks(ctx, *task.ParentTaskID)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		return nil
	}
	completed := 0
	for _, s := range siblings {
		switch s.Status {
		case store.TaskStatusCompleted:
			completed++
		case store.TaskStatusCancelled:
		default:
			return nil
		}
	}
	if completed == 0 {
		return nil
	}
	parent, err := o.stores.Tasks.Get(ctx, *task.ParentTaskID)
	if err != nil {
		return err
	}
	if parent.Terminal() {
		return nil
	}
	slog.Info("all subtasks settled, parent ready for review", "parent_id", parent.ID)
	if err := o.stores.Tasks.Update(ctx, parent.ID, map[string]any{
		"status": store.TaskStatusReadyForReview,
	}); err != nil {
		return err
	}
	o.publisher.Send(o.reviewRequest(ctx, parent))
	return nil
}

// reviewRequest addresses a review notification to whoever owns the review:
// the parent's assignee for a delegated task, the managing agent for a team
// epic.
func (o *Orchestrator) reviewRequest(ctx context.Context, parent *store.TaskData) bus.Message {
	parentID := parent.ID
	msg := bus.Message{
		Kind:   bus.KindReviewRequest,
		OrgID:  parent.OrgID,
		TaskID: &parentID,
		Body:   parent.Title,
	}
	switch {
	case parent.AssignedAgentID != nil:
		msg.AgentID = parent.AssignedAgentID
	case parent.AssignedTeamID != nil:
		msg.TeamID = parent.AssignedTeamID
		if team, err := o.stores.Teams.Get(ctx, *parent.AssignedTeamID); err == nil {
			msg.AgentID = team.ManagerAgentID
		}
	}
	return msg
}

// checkBudget gates the invocation on org spend. Crossing stopPercent flips
// the org kill switch; crossing alertPercent only logs.
func (o *Orchestrator) checkBudget(ctx context.Context, org *store.OrganizationData, estimate brain.Estimate) error {
	type window struct {
		name  string
		since time.Time
		limit float64
	}
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	budget := o.budgetSettings()
	windows := []window{}
	if limit := orgCap(org.DailyBudgetCents, budget.DailyCents); limit > 0 {
		windows = append(windows, window{"daily", dayStart, limit})
	}
	if limit := orgCap(org.MonthlyBudgetCents, budget.MonthlyCents); limit > 0 {
		windows = append(windows, window{"monthly", monthStart, limit})
	}

	for _, w := range windows {
		spent, err := o.stores.Costs.SumCentsSince(ctx, org.ID, w.since)
		if err != nil {
			return fmt.Errorf("cycle: budget sum: %w", err)
		}
		projected := spent + estimate.Cents
		stopAt := w.limit * float64(percentOr(org.StopPercent, budget.StopPercent)) / 100
		alertAt := w.limit * float64(percentOr(org.AlertPercent, budget.AlertPercent)) / 100

		if projected >= stopAt {
			reason := fmt.Sprintf("%s budget exhausted: %.4f of %.4f cents", w.name, projected, w.limit)
			if err := o.stores.Orgs.SetAutonomous(ctx, org.ID, false, &reason); err != nil {
				return err
			}
			o.publisher.Send(bus.Message{
				Kind:  bus.KindEmergencyStop,
				OrgID: org.ID,
				Body:  reason,
			})
			return Errf(KindBudgetExceeded, "%s", reason)
		}
		if projected >= alertAt {
			slog.Warn("budget alert threshold crossed",
				"org_id", org.ID, "window", w.name, "projected_cents", projected, "cap_cents", w.limit)
		}
	}
	return nil
}

// routeFailure sends a failure down the escalation ladder, honoring the
// starting-level determiner. Fatal failures mark the task failed first.
func (o *Orchestrator) routeFailure(ctx context.Context, task *store.TaskData, agent *store.AgentData, cause error) error {
	kind := Classify(cause)
	slog.Error("cycle failure", "task_id", task.ID, "kind", kind.String(), "error", cause)

	switch kind {
	case KindBudgetExceeded:
		return cause
	case KindFatal:
		if err := o.stores.Tasks.Update(ctx, task.ID, map[string]any{
			"status":        store.TaskStatusFailed,
			"error_message": cause.Error(),
		}); err != nil {
			return err
		}
		_, err := o.escalator.Escalate(ctx, task, agent, store.ApprovalKindEscalation, cause.Error(), LevelHumanApproval)
		return err
	case KindParseError, KindDependencyCycle:
		_, err := o.escalator.Escalate(ctx, task, agent, store.ApprovalKindQuality, cause.Error(), LevelTeam)
		return err
	}
	_, err := o.escalator.Escalate(ctx, task, agent, "", cause.Error(), StartLevel(task))
	return err
}

func (o *Orchestrator) recordCost(ctx context.Context, orgID, agentID, taskID uuid.UUID, estimate brain.Estimate) {
	rec := &store.CostRecordData{
		OrgID:          orgID,
		AgentID:        &agentID,
		TaskID:         &taskID,
		InputTokens:    estimate.InputTokens,
		OutputTokens:   estimate.OutputTokens,
		EstimatedCents: estimate.Cents,
		ActualCents:    estimate.Cents,
	}
	if err := o.stores.Costs.Insert(ctx, rec); err != nil {
		slog.Warn("cost record insert failed", "task_id", taskID, "error", err)
	}
}

func (o *Orchestrator) restoreIdle(ctx context.Context, agentID uuid.UUID) {
	for _, from := range []string{store.AgentStatusWorking, store.AgentStatusReviewing} {
		if err := o.stores.Agents.SetStatus(ctx, agentID, from, store.AgentStatusIdle); err == nil {
			return
		}
	}
}

func (o *Orchestrator) cleanup(ctx context.Context, ws *workspace.Workspace) {
	if ws == nil {
		return
	}
	if err := o.workspaces.Cleanup(ctx, ws); err != nil {
		slog.Warn("workspace cleanup failed", "path", ws.Path, "error", err)
	}
}

func orgCap(orgValue *float64, fallback float64) float64 {
	if orgValue != nil && *orgValue > 0 {
		return *orgValue
	}
	return fallback
}

func percentOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return 100
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
