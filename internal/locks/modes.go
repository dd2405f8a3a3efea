package locks

// LockMode is a PostgreSQL table-level lock mode, ordered from weakest to
// strongest.
type LockMode int

const (
	LockAccessShare LockMode = iota
	LockRowShare
	LockRowExclusive
	LockShareUpdateExclusive
	LockShare
	LockShareRowExclusive
	LockExclusive
	LockAccessExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockAccessShare:
		return "ACCESS SHARE"
	case LockRowShare:
		return "ROW SHARE"
	case LockRowExclusive:
		return "ROW EXCLUSIVE"
	case LockShareUpdateExclusive:
		return "SHARE UPDATE EXCLUSIVE"
	case LockShare:
		return "SHARE"
	case LockShareRowExclusive:
		return "SHARE ROW EXCLUSIVE"
	case LockExclusive:
		return "EXCLUSIVE"
	case LockAccessExclusive:
		return "ACCESS EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the mode name in JSON output.
func (m LockMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// BlocksReads reports whether plain SELECTs wait on this lock. Only ACCESS
// EXCLUSIVE conflicts with ACCESS SHARE.
func (m LockMode) BlocksReads() bool {
	return m == LockAccessExclusive
}

// BlocksWrites reports whether INSERT/UPDATE/DELETE wait on this lock.
func (m LockMode) BlocksWrites() bool {
	return m >= LockShare
}

// ImpactLevel classifies how disruptive holding the lock is.
func (m LockMode) ImpactLevel() ImpactLevel {
	switch {
	case m <= LockRowExclusive:
		return ImpactNone
	case m == LockShareUpdateExclusive:
		return ImpactLow
	case m == LockShare:
		return ImpactMedium
	default:
		return ImpactHigh
	}
}

// ImpactLevel is the user-facing severity of a lock.
type ImpactLevel int

const (
	ImpactNone ImpactLevel = iota
	ImpactLow
	ImpactMedium
	ImpactHigh
)

func (i ImpactLevel) String() string {
	switch i {
	case ImpactNone:
		return "NONE"
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the level name in JSON output.
func (i ImpactLevel) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// LockImpact describes the lock one statement takes.
type LockImpact struct {
	Operation           string      `json:"operation"`
	Statement           string      `json:"statement,omitempty"`
	LockMode            LockMode    `json:"lock_mode"`
	BlocksReads         bool        `json:"blocks_reads"`
	BlocksWrites        bool        `json:"blocks_writes"`
	Impact              ImpactLevel `json:"impact"`
	Explanation         string      `json:"explanation"`
	EstimatedDurationMS int64       `json:"estimated_duration_ms,omitempty"`
}

// IsHighImpact reports medium or high impact.
func (li *LockImpact) IsHighImpact() bool {
	return li.Impact >= ImpactMedium
}

// slowLockMS is the hold time above which any lock deserves a safer plan.
const slowLockMS = 1000

// RequiresSaferAlternative reports whether the statement should be rewritten:
// it is high impact, or it holds even a weak lock for more than a second.
func (li *LockImpact) RequiresSaferAlternative() bool {
	return li.IsHighImpact() || li.EstimatedDurationMS > slowLockMS
}
