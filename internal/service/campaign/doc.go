// Package campaign implements the campaign lifecycle state machine.
//
// Status only moves forward: DRAFT → SCHEDULED → SENDING → SENT|FAILED.
// The SCHEDULED → SENDING transition is a compare-and-set in the
// repository and is the only mutual-exclusion mechanism between worker
// ticks: whichever tick wins the transition owns the campaign.
//
// Repository implementations live in repository/postgres/.
package campaign
