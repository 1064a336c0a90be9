package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DrawRequest is the single outstanding randomness request of a raffle.
type DrawRequest struct {
	RequestID    uint64    `json:"request_id"`
	RequestedAt  time.Time `json:"requested_at"`
	Provider     uuid.UUID `json:"provider"`
	SoldSnapshot uint64    `json:"sold_snapshot"`
}

// DrawCoordinator tracks the in-flight request. At most one request exists,
// and activeDrawings mirrors its presence.
type DrawCoordinator struct {
	pending        *DrawRequest
	activeDrawings int
}

func NewDrawCoordinator() *DrawCoordinator {
	return &DrawCoordinator{}
}

// RestoreDrawCoordinator rebuilds the coordinator from a persisted request.
func RestoreDrawCoordinator(pending *DrawRequest) *DrawCoordinator {
	dc := &DrawCoordinator{}
	if pending != nil {
		req := *pending
		dc.pending = &req
		dc.activeDrawings = 1
	}
	return dc
}

// Begin records a newly issued request.
func (dc *DrawCoordinator) Begin(req DrawRequest) error {
	if dc.pending != nil {
		return errors.Wrapf(ErrDrawingInFlight, "request %d outstanding", dc.pending.RequestID)
	}
	if req.SoldSnapshot == 0 {
		return errors.Wrap(ErrNotEligible, "cannot draw with zero entries")
	}
	r := req
	dc.pending = &r
	dc.activeDrawings++
	return nil
}

// Matches reports whether (requestID, provider) identifies the outstanding request.
func (dc *DrawCoordinator) Matches(requestID uint64, provider uuid.UUID) (idMatch bool, providerMatch bool) {
	if dc.pending == nil || dc.pending.RequestID != requestID {
		return false, false
	}
	return true, dc.pending.Provider == provider
}

// Clear removes the outstanding request and returns it.
func (dc *DrawCoordinator) Clear() *DrawRequest {
	req := dc.pending
	if req != nil {
		dc.pending = nil
		dc.activeDrawings--
	}
	return req
}

// Pending returns a copy of the outstanding request, or nil.
func (dc *DrawCoordinator) Pending() *DrawRequest {
	if dc.pending == nil {
		return nil
	}
	req := *dc.pending
	return &req
}

// ActiveDrawings is 0 or 1.
func (dc *DrawCoordinator) ActiveDrawings() int {
	return dc.activeDrawings
}

// GracePeriodFor returns how long caller must wait after a request before
// forcing cancellation. Privileged callers wait the shorter period.
func GracePeriodFor(privileged bool) time.Duration {
	if privileged {
		return AdminGracePeriod
	}
	return PublicGracePeriod
}

// GraceElapsed reports whether the emergency hatch is open for the caller.
func (dc *DrawCoordinator) GraceElapsed(now time.Time, privileged bool) bool {
	if dc.pending == nil {
		return false
	}
	return !now.Before(dc.pending.RequestedAt.Add(GracePeriodFor(privileged)))
}
