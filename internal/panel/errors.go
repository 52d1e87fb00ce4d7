package panel

// ErrorState drives which banner the panel shows. Each field is independent;
// BlockingError picks the one that is surfaced.
type ErrorState struct {
	Script      string `json:"script,omitempty"`
	Session     string `json:"session,omitempty"`
	Integration string `json:"integration,omitempty"`
	Retryable   bool   `json:"retryable"`
}

// BlockingError returns the single error to display: script, then session,
// then integration. Empty means no banner.
func (e ErrorState) BlockingError() string {
	switch {
	case e.Script != "":
		return e.Script
	case e.Session != "":
		return e.Session
	default:
		return e.Integration
	}
}

// RetryAvailable is true only when a banner is shown and the caller marked
// the error retryable.
func (e ErrorState) RetryAvailable() bool {
	return e.BlockingError() != "" && e.Retryable
}
