// Package notifications delivers scoring events via pluggable notifiers.
//
// Two transports exist: an SMTP relay that mails score reports to the team
// that submitted, and an ntfy topic that gives operators a running feed of
// scored and failed submissions. NewService combines whatever is configured
// and degrades to a no-op when nothing is. Workflow code depends only on the
// Service interface.
package notifications
