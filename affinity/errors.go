package affinity

import "errors"

// ErrStaleView is returned by the reference HRW oracle when asked to answer
// at a topology version its Sowner hasn't reached yet; callers should treat
// it like any other topology-stale condition (spec §7).
var ErrStaleView = errors.New("affinity: stale topology view")
