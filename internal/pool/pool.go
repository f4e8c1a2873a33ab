package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// DefaultClaimAttempts bounds the pull loop when config leaves it unset.
// Losing this many claim races in one cycle means the pool is hot; the
// agent backs off until next tick.
const DefaultClaimAttempts = 3

// DefaultFileAffinityWindow is how far back completed-task files count
// toward affinity when config leaves it unset.
const DefaultFileAffinityWindow = 24 * time.Hour

// Pull priority classes, highest first. Class is reported on the claimed
// task so the orchestrator can log where work came from.
const (
	ClassReviewDue    = 0
	ClassDirect       = 1
	ClassFileAffinity = 2
	ClassTeamPool     = 3
	ClassRoleMatch    = 4
)

// Claimed is a successfully pulled task plus the class it was won from.
type Claimed struct {
	Task  *store.TaskData
	Class int
}

// Pool ranks eligible tasks for an agent and claims one atomically. All
// ordering inside a class comes from the store (priority ASC, created_at
// ASC); the pool only sequences the classes and applies filters SQL can't
// express cheaply.
type Pool struct {
	tasks          store.TaskStore
	affinityWindow time.Duration
	claimAttempts  int
}

func New(tasks store.TaskStore, affinityWindow time.Duration, claimAttempts int) *Pool {
	if affinityWindow <= 0 {
		affinityWindow = DefaultFileAffinityWindow
	}
	if claimAttempts <= 0 {
		claimAttempts = DefaultClaimAttempts
	}
	return &Pool{tasks: tasks, affinityWindow: affinityWindow, claimAttempts: claimAttempts}
}

// PullNext returns the highest-ranked claimable task for the agent, or nil
// when nothing is eligible. Claim races are absorbed by moving to the next
// candidate, up to the configured number of losses.
func (p *Pool) PullNext(ctx context.Context, agent *store.AgentData) (*Claimed, error) {
	busy, err := p.inProgressFiles(ctx, agent.OrgID)
	if err != nil {
		return nil, err
	}

	losses := 0
	for _, class := range []int{ClassReviewDue, ClassDirect, ClassFileAffinity, ClassTeamPool, ClassRoleMatch} {
		candidates, err := p.candidates(ctx, agent, class)
		if err != nil {
			return nil, err
		}
		for i := range candidates {
			task := &candidates[i]
			// Review pulls are already owned by this agent and move to
			// in_review under the reviewer, not in_progress; no claim.
			if class == ClassReviewDue {
				return &Claimed{Task: task, Class: class}, nil
			}
			// Everything else must not touch files another in-flight
			// task owns.
			if conflicts(task.AffectedFiles, busy) {
				continue
			}
			fromStatus := task.Status
			if err := p.tasks.Claim(ctx, task.ID, agent.ID, fromStatus); err != nil {
				if errors.Is(err, store.ErrNotClaimed) {
					losses++
					if losses >= p.claimAttempts {
						slog.Debug("claim contention, backing off", "agent", agent.Name, "losses", losses)
						return nil, nil
					}
					continue
				}
				return nil, err
			}
			task.Status = store.TaskStatusInProgress
			task.AssignedAgentID = &agent.ID
			return &Claimed{Task: task, Class: class}, nil
		}
	}
	return nil, nil
}

// Release puts a task back into the pool after a retryable failure.
func (p *Pool) Release(ctx context.Context, taskID uuid.UUID) error {
	return p.tasks.Release(ctx, taskID)
}

func (p *Pool) candidates(ctx context.Context, agent *store.AgentData, class int) ([]store.TaskData, error) {
	switch class {
	case ClassReviewDue:
		return p.tasks.ListReviewDue(ctx, agent.ID)
	case ClassDirect:
		return p.tasks.ListAssignedRunnable(ctx, agent.ID)
	case ClassFileAffinity:
		if agent.TeamID == nil {
			return nil, nil
		}
		recent, err := p.tasks.CompletedAffectedFilesSince(ctx, agent.ID, time.Now().Add(-p.affinityWindow))
		if err != nil || len(recent) == 0 {
			return nil, err
		}
		pool, err := p.tasks.ListUnassignedReadyByTeam(ctx, *agent.TeamID)
		if err != nil {
			return nil, err
		}
		var hits []store.TaskData
		for _, t := range pool {
			if conflicts(t.AffectedFiles, toSet(recent)) {
				hits = append(hits, t)
			}
		}
		return hits, nil
	case ClassTeamPool:
		if agent.TeamID == nil {
			return nil, nil
		}
		return p.tasks.ListUnassignedReadyByTeam(ctx, *agent.TeamID)
	case ClassRoleMatch:
		pool, err := p.tasks.ListUnassignedReadyByOrg(ctx, agent.OrgID)
		if err != nil {
			return nil, err
		}
		return filterByCapabilities(pool, agent), nil
	}
	return nil, nil
}

// inProgressFiles builds the set of files owned by in-flight tasks.
func (p *Pool) inProgressFiles(ctx context.Context, orgID uuid.UUID) (map[string]bool, error) {
	running, err := p.tasks.ListInProgress(ctx, orgID)
	if err != nil {
		return nil, err
	}
	busy := make(map[string]bool)
	for _, t := range running {
		for _, f := range t.AffectedFiles {
			busy[f] = true
		}
	}
	return busy, nil
}

// filterByCapabilities keeps tasks whose required skills are all covered by
// the agent's role capabilities. Skill-less tasks match any role.
func filterByCapabilities(tasks []store.TaskData, agent *store.AgentData) []store.TaskData {
	caps := toSet(agent.RoleCapabilities)
	var out []store.TaskData
	for _, t := range tasks {
		ok := true
		for _, skill := range t.RequiredSkills {
			if !caps[skill] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}

func conflicts(files []string, busy map[string]bool) bool {
	for _, f := range files {
		if busy[f] {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
