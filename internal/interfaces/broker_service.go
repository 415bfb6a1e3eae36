package interfaces

import (
	"context"
	"fmt"

	"github.com/ternarybob/conductor/internal/models"
)

// ReasonKind classifies why a resource claim cannot be satisfied.
type ReasonKind string

const (
	// ReasonSpec means a spec has no candidate resource at all.
	ReasonSpec ReasonKind = "spec"

	// ReasonType means fewer resources of a type exist than specs request.
	ReasonType ReasonKind = "type"

	// ReasonCaps means candidates exist but none offers the required
	// capabilities.
	ReasonCaps ReasonKind = "caps"
)

// WaitReason is a diagnostic explaining why a task is waiting, qualified by
// the availability level at which the shortage was observed.
type WaitReason struct {
	Kind      ReasonKind         `json:"kind"`
	Level     models.StatusLevel `json:"-"`
	LevelName string             `json:"level"`
	Reference string             `json:"reference,omitempty"`
	TypeID    string             `json:"type,omitempty"`
	Shortage  int                `json:"shortage,omitempty"`
}

// String renders the reason for logs and the "why waiting" UI.
func (r WaitReason) String() string {
	switch r.Kind {
	case ReasonType:
		return fmt.Sprintf("%d more %q resource(s) needed at level %s", r.Shortage, r.TypeID, r.Level)
	case ReasonCaps:
		return fmt.Sprintf("no %s resource satisfies the capabilities of %q", r.Level, r.Reference)
	default:
		return fmt.Sprintf("no %s resource available for %q", r.Level, r.Reference)
	}
}

// BrokerService computes resource assignments for claims and manages
// reservations. A failed match is not an error; Reserve returns a nil
// assignment and the caller answers the agent with a wait.
type BrokerService interface {
	// Reserve atomically matches the claim against free resources, forcing
	// runner as the SF_TR binding, and reserves the result for runID.
	// Resources of per-job-exclusive types stay bound to jobID until
	// ReleaseJob. Returns nil when no assignment exists.
	Reserve(ctx context.Context, claim models.ResourceClaim, runner *models.Resource, runID, jobID string) (map[string]*models.Resource, error)

	// Release clears every reservation held by the run. Releasing an
	// already-released run is a no-op. Per-job-exclusive resources stay
	// bound to their job.
	Release(ctx context.Context, runID string) error

	// ReleaseJob clears per-job-exclusive reservations when a job becomes
	// final.
	ReleaseJob(ctx context.Context, jobID string) error

	// WhyNot explains why the claim cannot currently be satisfied, one
	// reason list entry per shortage, ordered by availability level.
	WhyNot(ctx context.Context, claim models.ResourceClaim) ([]WaitReason, error)

	// Resource administration.
	CreateResource(ctx context.Context, res *models.Resource) error
	UpdateResource(ctx context.Context, res *models.Resource) error
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	ListResources(ctx context.Context) ([]*models.Resource, error)
	DeleteResource(ctx context.Context, id string) error

	// Suspend and Resume record the acting user and timestamp.
	Suspend(ctx context.Context, id, user string) error
	Resume(ctx context.Context, id, user string) error

	// ReserveManual hands a free resource to a user; ReleaseManual returns
	// it.
	ReserveManual(ctx context.Context, id, user string) error
	ReleaseManual(ctx context.Context, id, user string) error

	// SetExitOnIdle asks a runner to shut down on its next idle sync.
	SetExitOnIdle(ctx context.Context, id string, exit bool) error
}
