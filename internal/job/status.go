package job

// validTransitions defines allowed state transitions.
// Key is the "from" status, value is list of valid "to" statuses.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusProbing, StatusFailed, StatusExpired},
	StatusProbing:     {StatusDownloading, StatusFailed, StatusExpired},
	StatusDownloading: {StatusCompleted, StatusFailed, StatusExpired},
	StatusCompleted:   {StatusExpired},
	StatusFailed:      {StatusExpired},
	StatusExpired:     {}, // terminal - no transitions out
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	valid, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, v := range valid {
		if v == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true once the job's outcome is settled.
// Completed and failed jobs can still be reclaimed into expired.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// IsActive returns true while a worker may be holding the job.
func (s Status) IsActive() bool {
	return s == StatusProbing || s == StatusDownloading
}
