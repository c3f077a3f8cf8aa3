package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/recipients"
	"github.com/ignite/audience-engine/internal/service/suppression"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var campaignCols = []string{
	"id", "tenant_id", "name", "template_id", "segment_id", "rules_override", "show_id", "status",
	"scheduled_at", "created_by_user_id", "from_name", "from_email", "reply_to",
	"failure_reason", "materialized", "total_recipients", "sent_count", "failed_count",
	"started_at", "completed_at", "created_at", "updated_at",
}

func TestCampaignRepo_GetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM campaigns WHERE id = \\$1 AND tenant_id = \\$2").
		WithArgs("c1", "t1").
		WillReturnError(sql.ErrNoRows)

	_, err := NewCampaignRepo(db).Get(context.Background(), "t1", "c1")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_ListDueScansNullables(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched := now.Add(-time.Minute)

	rows := sqlmock.NewRows(campaignCols).AddRow(
		"c1", "t1", "[AI] Spring", "tpl1", nil, nil, "show-9", "SCHEDULED",
		sched, "u1", "Box Office", "news@venue.test", "",
		"", false, 0, 0, 0,
		nil, nil, now, now,
	)
	mock.ExpectQuery("WHERE status = \\$1 AND scheduled_at IS NOT NULL AND scheduled_at <= \\$2").
		WithArgs(domain.CampaignScheduled, now, 10).
		WillReturnRows(rows)

	got, err := NewCampaignRepo(db).ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, domain.CampaignScheduled, c.Status)
	assert.Nil(t, c.SegmentID)
	assert.Equal(t, "show-9", c.ShowRef())
	require.NotNil(t, c.ScheduledAt)
	assert.True(t, c.ScheduledAt.Equal(sched))
	assert.Nil(t, c.StartedAt)
}

func TestCampaignRepo_CompareAndSetStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("claim succeeds", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET status = $1, updated_at = $2, started_at = $3 WHERE id = $4 AND status = $5")).
			WithArgs(domain.CampaignSending, at, at, "c1", domain.CampaignScheduled).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewCampaignRepo(db).CompareAndSetStatus(context.Background(), "c1",
			domain.CampaignScheduled, domain.CampaignSending, campaign.StatusUpdate{At: at})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("schedule keeps send time apart from updated_at", func(t *testing.T) {
		db, mock := setupTestDB(t)
		sendAt := at.Add(72 * time.Hour)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET status = $1, updated_at = $2, scheduled_at = $3 WHERE id = $4 AND status = $5")).
			WithArgs(domain.CampaignScheduled, at, sendAt, "c1", domain.CampaignDraft).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewCampaignRepo(db).CompareAndSetStatus(context.Background(), "c1",
			domain.CampaignDraft, domain.CampaignScheduled, campaign.StatusUpdate{At: at, ScheduledAt: sendAt})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("lost race", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectExec("UPDATE campaigns SET").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := NewCampaignRepo(db).CompareAndSetStatus(context.Background(), "c1",
			domain.CampaignScheduled, domain.CampaignSending, campaign.StatusUpdate{At: at})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("completion writes totals", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectExec(regexp.QuoteMeta("completed_at = $3, total_recipients = $4, sent_count = $5, failed_count = $6 WHERE id = $7 AND status = $8")).
			WithArgs(domain.CampaignSent, at, at, 10, 8, 1, "c1", domain.CampaignSending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewCampaignRepo(db).CompareAndSetStatus(context.Background(), "c1",
			domain.CampaignSending, domain.CampaignSent,
			campaign.StatusUpdate{At: at, Totals: &campaign.Totals{Recipients: 10, Sent: 8, Failed: 1}})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failure writes reason", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectExec(regexp.QuoteMeta("completed_at = $3, failure_reason = $4 WHERE id = $5")).
			WithArgs(domain.CampaignFailed, at, at, "sender not verified", "c1", domain.CampaignSending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewCampaignRepo(db).CompareAndSetStatus(context.Background(), "c1",
			domain.CampaignSending, domain.CampaignFailed,
			campaign.StatusUpdate{At: at, FailureReason: "sender not verified"})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSuppressionRepo_UpsertKeepsMostSevere(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE suppressions.severity <= EXCLUDED.severity")).
		WithArgs(sqlmock.AnyArg(), "t1", "a@b.com", domain.SuppressionHardBounce, 2, "mailbox unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewSuppressionRepo(db).Upsert(context.Background(), &domain.Suppression{
		TenantID: "t1", Email: " A@B.com ", Type: domain.SuppressionHardBounce, Reason: "mailbox unavailable",
	})
	require.NoError(t, err)
}

func TestSuppressionRepo_RemoveMissing(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("DELETE FROM suppressions").
		WithArgs("t1", "a@b.com", domain.SuppressionUnsubscribe).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewSuppressionRepo(db).Remove(context.Background(), "t1", "a@b.com")
	assert.ErrorIs(t, err, suppression.ErrNotFound)
}

func TestSuppressionRepo_ListByEmails(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()
	mock.ExpectQuery("lower\\(email\\) = ANY\\(\\$2\\)").
		WithArgs("t1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "type", "reason", "created_at", "updated_at"}).
			AddRow("s1", "t1", "a@b.com", "SPAM_COMPLAINT", "", now, now))

	got, err := NewSuppressionRepo(db).ListByEmails(context.Background(), "t1", []string{"a@b.com", "c@d.com"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SuppressionSpamComplaint, got[0].Type)

	none, err := NewSuppressionRepo(db).ListByEmails(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestContactRepo_GetContact(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()
	cols := []string{"id", "tenant_id", "email", "first_name", "last_name", "town", "county", "postcode",
		"consent_status", "tags", "preferences", "created_at", "updated_at"}

	mock.ExpectQuery("FROM contacts WHERE tenant_id = \\$1 AND id = \\$2").
		WithArgs("t1", "k1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("k1", "t1", "a@b.com", "Ann", "", "Leeds", "", "",
			"SUBSCRIBED", "{vip,rock}", "{}", now, now))
	mock.ExpectQuery("FROM contacts WHERE tenant_id = \\$1 AND id = \\$2").
		WithArgs("t1", "gone").
		WillReturnError(sql.ErrNoRows)

	repo := NewContactRepo(db)
	c, err := repo.GetContact(context.Background(), "t1", "k1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{"vip", "rock"}, c.Tags)
	assert.True(t, c.HasTag("VIP"))
	assert.Equal(t, domain.ConsentSubscribed, c.ConsentStatus)

	missing, err := repo.GetContact(context.Background(), "t1", "gone")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecipientRepo_InsertCountsOnlyNewRows(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("ON CONFLICT \\(campaign_id, contact_id\\) DO NOTHING")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := NewRecipientRepo(db).InsertRecipients(context.Background(), []domain.CampaignRecipient{
		{TenantID: "t1", CampaignID: "c1", ContactID: "k1", Email: "a@b.com", MergeContext: map[string]string{"first_name": "Ann"}},
		{TenantID: "t1", CampaignID: "c1", ContactID: "k2", Email: "c@d.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecipientRepo_MarkFailedAttempt(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("RETURNING status").
		WithArgs("timeout", 3, domain.RecipientFailed, "r1", domain.RecipientPending).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PENDING"))
	mock.ExpectQuery("RETURNING status").
		WithArgs("timeout", 3, domain.RecipientFailed, "r1", domain.RecipientPending).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("FAILED"))

	repo := NewRecipientRepo(db)
	st, err := repo.MarkFailedAttempt(context.Background(), "r1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientPending, st)

	st, err = repo.MarkFailedAttempt(context.Background(), "r1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientFailed, st)
}

func TestRecipientRepo_ListPendingDecodesMergeContext(t *testing.T) {
	db, mock := setupTestDB(t)
	cols := []string{"id", "tenant_id", "campaign_id", "contact_id", "email", "merge_context", "status",
		"attempts", "last_error", "provider_message_id", "sent_at"}
	mock.ExpectQuery("WHERE campaign_id = \\$1 AND status = \\$2 AND id > \\$3").
		WithArgs("c1", domain.RecipientPending, "", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", "t1", "c1", "k1", "a@b.com", []byte(`{"first_name":"Ann"}`), "PENDING", 1, "timeout", "", nil))

	got, err := NewRecipientRepo(db).ListPending(context.Background(), "c1", "", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ann", got[0].MergeContext["first_name"])
	assert.Equal(t, 1, got[0].Attempts)
	assert.Nil(t, got[0].SentAt)
}

func TestRecipientRepo_CountByStatus(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("GROUP BY status").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("SENT", 7).AddRow("SUPPRESSED", 2).AddRow("FAILED", 1))

	got, err := NewRecipientRepo(db).CountByStatus(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 7, got[domain.RecipientSent])
	assert.Equal(t, 0, got[domain.RecipientPending])
}

func TestEventRepo_History(t *testing.T) {
	db, mock := setupTestDB(t)
	since := time.Now().Add(-30 * 24 * time.Hour)
	last := time.Now().Add(-48 * time.Hour)

	mock.ExpectQuery("starts_with\\(campaign_name, \\$4\\) AND created_at >= \\$5").
		WithArgs("t1", "a@b.com", domain.EventDelivered, "[AI] ", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT MAX\\(created_at\\)").
		WithArgs("t1", "a@b.com", domain.EventDelivered, "show-1", "[AI] ").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))
	mock.ExpectQuery("SELECT MAX\\(created_at\\)").
		WithArgs("t1", "a@b.com", domain.EventDelivered, "show-2", "[AI] ").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	repo := NewEventRepo(db)
	n, err := repo.CountIntelligentDelivered(context.Background(), "t1", "A@b.com", "[AI] ", since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	at, err := repo.LastIntelligentShowSend(context.Background(), "t1", "a@b.com", "show-1", "[AI] ")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, at.Equal(last))

	at, err = repo.LastIntelligentShowSend(context.Background(), "t1", "a@b.com", "show-2", "[AI] ")
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestEventRepo_AppendInTransaction(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO marketing_email_events")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewEventRepo(db).Append(context.Background(), domain.MarketingEmailEvent{
		TenantID: "t1", CampaignID: "c1", CampaignName: "[AI] Spring", Email: "a@b.com", Type: domain.EventDelivered,
	})
	require.NoError(t, err)
}

func TestAutomationRepo_EnrollAndAdvance(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()
	mock.ExpectExec("INSERT INTO automation_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO automation_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE automation_runs").
		WithArgs(1, now, "run1", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE automation_runs").
		WithArgs(1, now, "run1", 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewAutomationRepo(db)
	run := domain.AutomationRun{ID: "run1", AutomationID: "a1", TenantID: "t1", ContactID: "k1", TriggerKey: "signup"}

	ok, err := repo.Enroll(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Enroll(context.Background(), run)
	require.NoError(t, err)
	assert.False(t, ok, "second enrollment hits the unique index")

	ok, err = repo.Advance(context.Background(), "run1", 0, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Advance(context.Background(), "run1", 0, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutomationRepo_StepAttempts(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("UPDATE automation_runs SET attempts = attempts \\+ 1").
		WithArgs("run1", 0).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(2))
	mock.ExpectQuery("UPDATE automation_runs SET attempts = attempts \\+ 1").
		WithArgs("run1", 0).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE automation_runs SET step_sent = true").
		WithArgs("run1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, automation_id").
		WithArgs("a1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "automation_id", "tenant_id", "contact_id", "email", "trigger_key",
			"current_step_index", "last_advanced_at", "attempts", "step_sent", "created_at"}).
			AddRow("run1", "a1", "t1", "k1", "a@b.com", "signup", 1, time.Now(), 0, true, time.Now()))

	repo := NewAutomationRepo(db)
	n, err := repo.RecordAttempt(context.Background(), "run1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = repo.RecordAttempt(context.Background(), "run1", 0)
	require.NoError(t, err)
	assert.Zero(t, n, "run already moved past the step")

	require.NoError(t, repo.MarkStepSent(context.Background(), "run1", 1))
	runs, err := repo.ListOpenRuns(context.Background(), "a1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].StepSent)
	assert.Equal(t, 1, runs[0].CurrentStepIndex)
}

func TestAutomationRepo_ListActiveDecodesSteps(t *testing.T) {
	db, mock := setupTestDB(t)
	cols := []string{"id", "tenant_id", "name", "trigger_type", "trigger_days", "trigger_minutes",
		"rules", "steps", "from_name", "from_email", "reply_to", "active", "created_at"}
	steps := `[{"delay":0,"template_id":"t-welcome"},{"delay":172800000000000,"template_id":"t-follow"}]`
	mock.ExpectQuery("FROM automations").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "t1", "Welcome", "SIGNED_UP", 0, 0,
			nil, []byte(steps), "Box Office", "news@venue.test", "", true, time.Now()))

	got, err := NewAutomationRepo(db).ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Steps, 2)
	assert.Equal(t, 48*time.Hour, got[0].Steps[1].Delay)
	assert.Nil(t, got[0].Rules)
}

func TestAutomationRepo_ListActiveSkipsBrokenSteps(t *testing.T) {
	db, mock := setupTestDB(t)
	cols := []string{"id", "tenant_id", "name", "trigger_type", "trigger_days", "trigger_minutes",
		"rules", "steps", "from_name", "from_email", "reply_to", "active", "created_at"}
	now := time.Now()
	mock.ExpectQuery("FROM automations").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a1", "tenant_A", "Welcome", "SIGNED_UP", 0, 0,
				nil, []byte(`[{"delay":0,"template_id":"t-welcome"}]`), "Box Office", "news@a.test", "", true, now).
			AddRow("a2", "tenant_B", "Lapsed", "NO_PURCHASE_IN_DAYS", 90, 0,
				nil, []byte(`[{"delay":"2d","template_id":"t-lapsed"}]`), "Box Office", "news@b.test", "", true, now).
			AddRow("a3", "tenant_C", "Checkout", "ABANDONED_CHECKOUT", 0, 60,
				nil, []byte(`[{"delay":0,"template_id":"t-cart"}]`), "Box Office", "news@c.test", "", true, now))

	got, err := NewAutomationRepo(db).ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "a3", got[1].ID)
}

func TestSegmentRepo(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("SELECT rules FROM segments").
		WithArgs("t1", "gone").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM segment_aliases").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "canonical", "alias"}).
			AddRow("venue", "v1", "v1-old").
			AddRow("category", "comedy", "stand-up").
			AddRow("venue", "v1", "v1-annex"))

	repo := NewSegmentRepo(db)
	_, err := repo.GetRules(context.Background(), "t1", "gone")
	assert.ErrorIs(t, err, recipients.ErrSegmentNotFound)

	ov, err := repo.GetOverrides(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1-old", "v1-annex"}, ov.VenueAliases["v1"])
	assert.Equal(t, []string{"stand-up"}, ov.CategoryAliases["comedy"])
}

func TestTemplateRepo_Missing(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM email_templates").
		WithArgs("t1", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := NewTemplateRepo(db).GetTemplate(context.Background(), "t1", "nope")
	assert.ErrorIs(t, err, campaign.ErrMissingTemplate)
}
