// Package campaign implements campaign lifecycle management.
//
// The service layer contains all business logic for creating, scheduling,
// and sending email campaigns. Send transitions a campaign to sending and
// hands off to a Materializer running in the background; the service
// itself never touches recipients or work records.
package campaign
