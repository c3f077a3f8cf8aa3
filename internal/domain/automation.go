package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// TriggerType enumerates what enrolls a contact into an automation.
type TriggerType string

const (
	TriggerNoPurchaseInDays  TriggerType = "NO_PURCHASE_IN_DAYS"
	TriggerAbandonedCheckout TriggerType = "ABANDONED_CHECKOUT"
	TriggerSignedUp          TriggerType = "SIGNED_UP"
)

// AutomationStep is one message in a sequence. Delay is measured from
// enrollment for step 0 and from the previous step otherwise.
type AutomationStep struct {
	Delay      time.Duration `json:"delay"`
	TemplateID string        `json:"template_id"`
	Subject    string        `json:"subject,omitempty"`
	ShowID     string        `json:"show_id,omitempty"`
}

// Automation is a trigger-driven analogue of a campaign.
type Automation struct {
	ID             string           `json:"id" db:"id"`
	TenantID       string           `json:"tenant_id" db:"tenant_id"`
	Name           string           `json:"name" db:"name"`
	TriggerType    TriggerType      `json:"trigger_type" db:"trigger_type"`
	TriggerDays    int              `json:"trigger_days,omitempty" db:"trigger_days"`
	TriggerMinutes int              `json:"trigger_minutes,omitempty" db:"trigger_minutes"`
	Rules          json.RawMessage  `json:"rules,omitempty" db:"rules"`
	Steps          []AutomationStep `json:"steps" db:"steps"`
	FromName       string           `json:"from_name" db:"from_name"`
	FromEmail      string           `json:"from_email" db:"from_email"`
	ReplyTo        string           `json:"reply_to,omitempty" db:"reply_to"`
	Active         bool             `json:"active" db:"active"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// StepCampaignID is the correlation id stamped on messages sent by a step so
// webhook events can be traced back to the automation.
func (a *Automation) StepCampaignID(step int) string {
	return "automation:" + a.ID + ":" + strconv.Itoa(step)
}

// AutomationRun tracks one contact's progress through an automation. At most
// one run with CompletedAt == nil exists per (AutomationID, ContactID).
// TriggerKey names the trigger occurrence that enrolled the contact, so the
// same occurrence never enrolls them twice. Attempts counts failed sends of
// the current step; StepSent is set once the provider accepted it, so a
// failed advance never sends the step twice.
type AutomationRun struct {
	ID               string     `json:"id" db:"id"`
	AutomationID     string     `json:"automation_id" db:"automation_id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	ContactID        string     `json:"contact_id" db:"contact_id"`
	Email            string     `json:"email" db:"email"`
	TriggerKey       string     `json:"trigger_key" db:"trigger_key"`
	CurrentStepIndex int        `json:"current_step_index" db:"current_step_index"`
	LastAdvancedAt   time.Time  `json:"last_advanced_at" db:"last_advanced_at"`
	Attempts         int        `json:"attempts" db:"attempts"`
	StepSent         bool       `json:"step_sent" db:"step_sent"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ExitReason       string     `json:"exit_reason,omitempty" db:"exit_reason"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// DueAt returns when the run's current step becomes sendable, and false if
// the run has no step left.
func (r *AutomationRun) DueAt(steps []AutomationStep) (time.Time, bool) {
	if r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(steps) {
		return time.Time{}, false
	}
	return r.LastAdvancedAt.Add(steps[r.CurrentStepIndex].Delay), true
}
