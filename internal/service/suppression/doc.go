// Package suppression decides whether a contact may receive marketing mail
// and keeps the per-tenant suppression list current.
//
// Suppressions flow in from provider webhooks (bounces, spam reports,
// unsubscribes) and from public unsubscribe links. Records are merged
// "most restrictive wins": a later UNSUBSCRIBE never clears an earlier
// HARD_BOUNCE or SPAM_COMPLAINT.
//
// The service layer contains business logic only and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
