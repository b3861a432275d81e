package domain

// Severity grades a user-facing advisory.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Advisory is a transient notice addressed to one user, for example a
// rate-limit rejection or a retry in progress.
type Advisory struct {
	UserID   UserID
	Severity Severity
	Code     string
	Message  string
}
