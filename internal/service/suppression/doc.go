// Package suppression implements the suppression service layer on top of
// the Suppression Store (internal/suppression).
//
// This is the single source of truth for whether an email address should
// receive mail. Suppressions flow in from multiple sources (ESP bounce
// webhooks, tracking-pixel unsubscribe links, manual admin actions) and are
// checked before every send — once by the Materializer as a pre-filter,
// and again by the Dispatcher as a late check immediately before claiming
// a recipient.
//
// The service layer contains validation and idempotency rules and depends
// on the Store interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
