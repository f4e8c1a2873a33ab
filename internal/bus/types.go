package bus

import (
	"context"

	"github.com/google/uuid"
)

// Message kinds carried on the bus.
const (
	KindReviewRequest  = "REVIEW_REQUEST"
	KindEscalation     = "ESCALATION"
	KindProgressReport = "PROGRESS_REPORT"
	KindEmergencyStop  = "EMERGENCY_STOP"
)

// Message is a broadcast unit addressed to an org-wide or team channel.
type Message struct {
	Kind    string            `json:"kind"`
	OrgID   uuid.UUID         `json:"org_id"`
	TeamID  *uuid.UUID        `json:"team_id,omitempty"`
	TaskID  *uuid.UUID        `json:"task_id,omitempty"`
	AgentID *uuid.UUID        `json:"agent_id,omitempty"`
	Body    string            `json:"body"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Handler handles one delivered message.
type Handler func(Message)

// Publisher abstracts message broadcast + subscription. The orchestrator
// emits REVIEW_REQUEST messages and reads them back to drive reviewer
// agents; everything else is observability fan-out.
type Publisher interface {
	Send(msg Message)
	Subscribe(id string, handler Handler)
	Unsubscribe(id string)
}

// Consumer is the pull side used by long-running subscriber loops.
type Consumer interface {
	Consume(ctx context.Context) (Message, bool)
}
