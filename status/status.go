package status

import "errors"

var (
	ErrTransport     = errors.New("queue: transport unavailable")
	ErrDecode        = errors.New("queue: malformed event payload")
	ErrStaleState    = errors.New("raid: participant no longer present")
	ErrRaidInactive  = errors.New("raid: raid is not active")
	ErrRaidNotFound  = errors.New("raid: raid not found")
	ErrAltsDisabled  = errors.New("raid: alts are disabled for this raid")
	ErrMainRequired  = errors.New("raid: join with a main character first")
	ErrAltCapReached = errors.New("raid: alt limit reached for this raid")
	ErrNotOwner      = errors.New("raid: only the raid owner can do that")
	ErrBusy          = errors.New("raid: previous action still in progress")
)
