package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/goals"
	"github.com/nextlevelbuilder/hivemind/internal/orchestrator"
	"github.com/nextlevelbuilder/hivemind/internal/store"
	"github.com/nextlevelbuilder/hivemind/internal/vcs"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

// Periods configures driver cadences.
type Periods struct {
	Decompose      time.Duration
	Execute        time.Duration
	Review         time.Duration
	Distribute     time.Duration
	StuckSweep     time.Duration
	ProgressReport time.Duration

	StuckThreshold time.Duration
	OrphanSweep    time.Duration
	LevelTimeout   time.Duration
}

// Scheduler owns the periodic drivers that animate the orchestrator. One
// instance runs per process; the database orders everything else.
type Scheduler struct {
	stores      *store.Stores
	orch        *orchestrator.Orchestrator
	distributor *orchestrator.Distributor
	escalator   *orchestrator.Escalator
	decomposer  *goals.Decomposer
	workspaces  *workspace.Manager
	registry    *brain.PidRegistry
	prs         vcs.PullRequestAPI
	publisher   bus.Publisher
	consumer    bus.Consumer
	periods     Periods
	maxAgents   int

	sem *semaphore.Weighted

	mu        sync.Mutex
	executing map[uuid.UUID]bool
}

// Options bundles scheduler construction inputs.
type Options struct {
	Stores      *store.Stores
	Orch        *orchestrator.Orchestrator
	Distributor *orchestrator.Distributor
	Escalator   *orchestrator.Escalator
	Decomposer  *goals.Decomposer
	Workspaces  *workspace.Manager
	Registry    *brain.PidRegistry
	PullRequest vcs.PullRequestAPI
	Publisher   bus.Publisher
	Consumer    bus.Consumer
	Periods     Periods
	MaxAgents   int
}

func New(opts Options) *Scheduler {
	maxAgents := opts.MaxAgents
	if maxAgents <= 0 {
		maxAgents = 10
	}
	return &Scheduler{
		stores:      opts.Stores,
		orch:        opts.Orch,
		distributor: opts.Distributor,
		escalator:   opts.Escalator,
		decomposer:  opts.Decomposer,
		workspaces:  opts.Workspaces,
		registry:    opts.Registry,
		prs:         opts.PullRequest,
		publisher:   opts.Publisher,
		consumer:    opts.Consumer,
		periods:     opts.Periods,
		maxAgents:   maxAgents,
		sem:         semaphore.NewWeighted(int64(maxAgents)),
		executing:   make(map[uuid.UUID]bool),
	}
}

// Run blocks until ctx is cancelled, driving every ticker. A panicking cycle
// is isolated per launch; a driver error stops the whole scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(ctx, "decompose", s.periods.Decompose, s.decomposeTick) })
	g.Go(func() error { return s.loop(ctx, "execute", s.periods.Execute, s.executeTick) })
	g.Go(func() error { return s.loop(ctx, "review", s.periods.Review, s.reviewTick) })
	g.Go(func() error { return s.loop(ctx, "distribute", s.periods.Distribute, s.distributeTick) })
	g.Go(func() error { return s.loop(ctx, "stuck-sweep", s.periods.StuckSweep, s.stuckSweepTick) })
	g.Go(func() error { return s.loop(ctx, "progress-report", s.periods.ProgressReport, s.progressTick) })
	g.Go(func() error { return s.loop(ctx, "merge-sweep", s.periods.Review, s.mergeSweepTick) })
	if s.consumer != nil {
		g.Go(func() error { return s.consumeLoop(ctx) })
	}

	slog.Info("scheduler started", "max_agents", s.maxAgents)
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, period time.Duration, tick func(context.Context) error) error {
	if period <= 0 {
		slog.Warn("driver disabled", "driver", name)
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				slog.Error("driver tick failed", "driver", name, "error", err)
			}
		}
	}
}

// consumeLoop drains the bus and launches the addressed agent as soon as a
// review request lands, ahead of the next review tick.
func (s *Scheduler) consumeLoop(ctx context.Context) error {
	for {
		msg, ok := s.consumer.Consume(ctx)
		if !ok {
			return nil
		}
		if msg.Kind == bus.KindReviewRequest && msg.AgentID != nil {
			s.launch(ctx, *msg.AgentID)
		}
	}
}

// runningOrgs returns the orgs whose drivers may act this tick.
func (s *Scheduler) runningOrgs(ctx context.Context) ([]store.OrganizationData, error) {
	orgs, err := s.stores.Orgs.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := orgs[:0]
	for _, o := range orgs {
		if o.AutonomousExecutionEnabled {
			enabled = append(enabled, o)
		}
	}
	return enabled, nil
}

func (s *Scheduler) decomposeTick(ctx context.Context) error {
	orgs, err := s.runningOrgs(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		pending, err := s.stores.Goals.ListUndecomposed(ctx, org.ID)
		if err != nil {
			return err
		}
		for i := range pending {
			goal := pending[i]
			if err := s.decomposer.Decompose(ctx, &goal); err != nil {
				slog.Error("goal decomposition failed", "goal_id", goal.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) executeTick(ctx context.Context) error {
	all, err := s.stores.Orgs.List(ctx)
	if err != nil {
		return err
	}
	// A stop flipped out-of-process (CLI, budget gate) leaves running agents
	// behind; reconcile them here.
	var orgs []store.OrganizationData
	for _, org := range all {
		if !org.AutonomousExecutionEnabled {
			s.enforceStop(ctx, org)
			continue
		}
		orgs = append(orgs, org)
	}
	for _, org := range orgs {
		if !s.underCap(ctx, org) {
			continue
		}
		idle, err := s.stores.Agents.ListIdle(ctx, org.ID)
		if err != nil {
			return err
		}
		for _, agent := range idle {
			s.launch(ctx, agent.ID)
		}
	}
	return nil
}

// reviewTick launches only agents that have a review waiting; the cycle's
// class-0 pull routes them into the reviewer.
func (s *Scheduler) reviewTick(ctx context.Context) error {
	orgs, err := s.runningOrgs(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		idle, err := s.stores.Agents.ListIdle(ctx, org.ID)
		if err != nil {
			return err
		}
		for _, agent := range idle {
			due, err := s.stores.Tasks.ListReviewDue(ctx, agent.ID)
			if err != nil {
				return err
			}
			if len(due) > 0 {
				s.launch(ctx, agent.ID)
			}
		}
	}
	return nil
}

func (s *Scheduler) distributeTick(ctx context.Context) error {
	orgs, err := s.runningOrgs(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		epics, err := s.stores.Tasks.ListPendingTeamEpics(ctx, org.ID)
		if err != nil {
			return err
		}
		for i := range epics {
			epic := epics[i]
			if epic.AssignedTeamID == nil {
				continue
			}
			team, err := s.stores.Teams.Get(ctx, *epic.AssignedTeamID)
			if err != nil || team.ManagerAgentID == nil {
				continue
			}
			manager, err := s.stores.Agents.Get(ctx, *team.ManagerAgentID)
			if err != nil {
				continue
			}
			if err := s.distributor.Distribute(ctx, &epic, manager); err != nil {
				slog.Error("distribution failed", "epic_id", epic.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) stuckSweepTick(ctx context.Context) error {
	cutoff := time.Now().Add(-s.periods.StuckThreshold)
	stuck, err := s.stores.Tasks.ListStuck(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, task := range stuck {
		elapsed := time.Since(*task.StartedAt).Round(time.Minute)
		if err := s.stores.Tasks.Update(ctx, task.ID, map[string]any{
			"status":        store.TaskStatusBlocked,
			"error_message": fmt.Sprintf("stuck in progress for %s", elapsed),
		}); err != nil {
			return err
		}
		slog.Warn("stuck task blocked", "task_id", task.ID, "elapsed", elapsed)
	}

	// Escalations nobody acted on ride the same cadence: a stale leader
	// review becomes an org broadcast, a stale broadcast a human approval.
	if s.escalator != nil {
		if _, err := s.escalator.PromoteStalled(ctx, s.periods.LevelTimeout); err != nil {
			slog.Error("stalled escalation sweep failed", "error", err)
		}
	}

	// Orphan worktrees ride the same cadence.
	orgs, err := s.stores.Orgs.List(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		projects, err := s.stores.Projects.ListByOrg(ctx, org.ID)
		if err != nil {
			return err
		}
		for _, p := range projects {
			if p.WorkingDirectory == "" {
				continue
			}
			if _, err := s.workspaces.SweepOrphans(ctx, p.WorkingDirectory, s.periods.OrphanSweep); err != nil {
				slog.Warn("orphan sweep failed", "project", p.Name, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) progressTick(ctx context.Context) error {
	orgs, err := s.stores.Orgs.List(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		counts, err := s.stores.Tasks.StatusCounts(ctx, org.ID)
		if err != nil {
			return err
		}
		working, err := s.stores.Agents.CountByStatus(ctx, org.ID, store.AgentStatusWorking, store.AgentStatusReviewing)
		if err != nil {
			return err
		}
		slog.Info("progress report",
			"org", org.Name,
			"pending", counts[store.TaskStatusPending],
			"ready", counts[store.TaskStatusReady],
			"in_progress", counts[store.TaskStatusInProgress],
			"in_review", counts[store.TaskStatusInReview],
			"completed", counts[store.TaskStatusCompleted],
			"blocked", counts[store.TaskStatusBlocked],
			"agents_busy", working)

		meta := make(map[string]string, len(counts))
		for status, n := range counts {
			meta[status] = fmt.Sprintf("%d", n)
		}
		s.publisher.Send(bus.Message{
			Kind:  bus.KindProgressReport,
			OrgID: org.ID,
			Body:  fmt.Sprintf("%d agents busy", working),
			Meta:  meta,
		})
	}
	return nil
}

// mergeSweepTick polls open pull requests and completes tasks whose PR
// merged. This is the asynchronous tail of the execution cycle.
func (s *Scheduler) mergeSweepTick(ctx context.Context) error {
	open, err := s.stores.PullRequests.ListByStatus(ctx, store.PRStatusOpen)
	if err != nil {
		return err
	}
	for i := range open {
		rec := open[i]
		task, err := s.stores.Tasks.Get(ctx, rec.TaskID)
		if err != nil {
			continue
		}
		dir := ""
		if task.ProjectID != nil {
			if project, err := s.stores.Projects.Get(ctx, *task.ProjectID); err == nil {
				dir = project.WorkingDirectory
			}
		}
		pr, err := s.prs.Get(ctx, dir, rec.PRID)
		if err != nil {
			slog.Debug("pr poll failed", "pr", rec.PRID, "error", err)
			continue
		}
		switch pr.Status {
		case store.PRStatusMerged:
			if err := s.orch.OnPRMerged(ctx, &rec); err != nil {
				slog.Error("merge completion failed", "task_id", rec.TaskID, "error", err)
			}
		case store.PRStatusClosed:
			_ = s.stores.PullRequests.Update(ctx, rec.ID, map[string]any{"status": store.PRStatusClosed})
			_ = s.stores.Tasks.Release(ctx, rec.TaskID)
		case store.PRStatusChangesRequested:
			if rec.Status != store.PRStatusChangesRequested {
				_ = s.stores.PullRequests.Update(ctx, rec.ID, map[string]any{"status": store.PRStatusChangesRequested})
			}
		}
	}
	return nil
}

// enforceStop completes an emergency stop for an org whose flag was flipped
// by another process: pause running agents, reset in-flight tasks, kill live
// brain children. Idempotent when nothing is running.
func (s *Scheduler) enforceStop(ctx context.Context, org store.OrganizationData) {
	busy, err := s.stores.Agents.CountByStatus(ctx, org.ID, store.AgentStatusWorking, store.AgentStatusReviewing)
	if err != nil || busy == 0 {
		return
	}
	paused, _ := s.stores.Agents.PauseRunning(ctx, org.ID)
	reset, _ := s.stores.Tasks.ResetInProgress(ctx, org.ID)
	s.registry.KillAll()
	slog.Warn("stop reconciled", "org_id", org.ID, "agents_paused", paused, "tasks_reset", reset)
}

// underCap enforces the per-org concurrency cap over working and blocked
// agents.
func (s *Scheduler) underCap(ctx context.Context, org store.OrganizationData) bool {
	limit := org.MaxConcurrentAgents
	if limit <= 0 {
		limit = s.maxAgents
	}
	busy, err := s.stores.Agents.CountByStatus(ctx, org.ID, store.AgentStatusWorking, store.AgentStatusBlocked)
	if err != nil {
		slog.Error("concurrency count failed", "org_id", org.ID, "error", err)
		return false
	}
	return busy < limit
}

// launch runs one agent cycle on the worker pool. The dedupe set guarantees
// one in-flight cycle per agent; the semaphore bounds total parallelism.
func (s *Scheduler) launch(ctx context.Context, agentID uuid.UUID) {
	s.mu.Lock()
	if s.executing[agentID] {
		s.mu.Unlock()
		return
	}
	s.executing[agentID] = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.executing, agentID)
		s.mu.Unlock()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		release()
		return
	}
	go func() {
		defer s.sem.Release(1)
		defer release()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cycle panicked", "agent_id", agentID, "panic", r)
			}
		}()
		result := s.orch.RunCycle(ctx, agentID)
		switch {
		case result.Err != nil:
			slog.Error("cycle failed", "agent_id", agentID, "error", result.Err, "duration", result.Duration)
		case result.NoTaskAvailable:
		default:
			slog.Info("cycle finished", "agent_id", agentID, "task_id", result.TaskID, "duration", result.Duration)
		}
	}()
}

// EmergencyStop halts all autonomous activity for an org: flag off, agents
// paused, in-flight tasks back to pending, live brain processes killed.
func (s *Scheduler) EmergencyStop(ctx context.Context, orgID uuid.UUID, reason string) error {
	if err := s.stores.Orgs.SetAutonomous(ctx, orgID, false, &reason); err != nil {
		return fmt.Errorf("emergency stop: flag: %w", err)
	}
	paused, err := s.stores.Agents.PauseRunning(ctx, orgID)
	if err != nil {
		return fmt.Errorf("emergency stop: pause agents: %w", err)
	}
	reset, err := s.stores.Tasks.ResetInProgress(ctx, orgID)
	if err != nil {
		return fmt.Errorf("emergency stop: reset tasks: %w", err)
	}
	s.registry.KillAll()
	s.publisher.Send(bus.Message{
		Kind:  bus.KindEmergencyStop,
		OrgID: orgID,
		Body:  reason,
	})
	slog.Warn("emergency stop",
		"org_id", orgID, "reason", reason, "agents_paused", paused, "tasks_reset", reset)
	return nil
}

// Resume re-enables an org and returns its paused agents to idle.
func (s *Scheduler) Resume(ctx context.Context, orgID uuid.UUID) error {
	if err := s.stores.Orgs.SetAutonomous(ctx, orgID, true, nil); err != nil {
		return fmt.Errorf("resume: flag: %w", err)
	}
	resumed, err := s.stores.Agents.ResumePaused(ctx, orgID)
	if err != nil {
		return fmt.Errorf("resume: agents: %w", err)
	}
	slog.Info("autonomous execution resumed", "org_id", orgID, "agents", resumed)
	return nil
}
