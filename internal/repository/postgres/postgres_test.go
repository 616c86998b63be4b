package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
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

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestTagStore_UpsertReportsChange(t *testing.T) {
	db, mock := setupTestDB(t)
	store := NewTagStore(db)
	tag := domain.Tag{SubjectID: "s1", Label: "optin", Value: "", CreatedAt: t0}

	mock.ExpectQuery("INSERT INTO automation_tags").
		WithArgs("s1", "optin", "", t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	changed, err := store.Upsert(context.Background(), tag)
	require.NoError(t, err)
	assert.True(t, changed)

	// Same value: the conditional DO UPDATE returns no row.
	mock.ExpectQuery("INSERT INTO automation_tags").
		WithArgs("s1", "optin", "", t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	changed, err = store.Upsert(context.Background(), tag)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTagStore_CurrentAndRemove(t *testing.T) {
	db, mock := setupTestDB(t)
	store := NewTagStore(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT subject_id, label, value, created_at").
		WithArgs("s1", "niche").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "label", "value", "created_at"}))
	cur, err := store.Current(ctx, "s1", "niche")
	require.NoError(t, err)
	assert.Nil(t, cur)

	mock.ExpectQuery("SELECT subject_id, label, value, created_at").
		WithArgs("s1", "niche").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "label", "value", "created_at"}).
			AddRow("s1", "niche", "grief", t0))
	cur, err = store.Current(ctx, "s1", "niche")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "grief", cur.Value)

	mock.ExpectExec("DELETE FROM automation_tags").
		WithArgs("s1", "niche").
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := store.Remove(ctx, "s1", "niche")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

var enrollmentCols = []string{"id", "subject_id", "sequence_id", "status", "current_step", "next_send_at",
	"enrolled_at", "updated_at", "completed_at", "exited_at", "exit_reason"}

func TestEnrollmentRepo_CreateMapsUniqueViolation(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewEnrollmentRepo(db)
	next := t0
	e := &domain.Enrollment{ID: "e1", SubjectID: "s1", SequenceID: "optin", Status: domain.EnrollmentActive,
		CurrentStep: 1, NextSendAt: &next, EnrolledAt: t0, UpdatedAt: t0}

	mock.ExpectExec("INSERT INTO automation_enrollments").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	err := repo.Create(context.Background(), e)
	assert.ErrorIs(t, err, enrollment.ErrAlreadyLive)

	mock.ExpectExec("INSERT INTO automation_enrollments").
		WillReturnError(errors.New("connection reset"))
	err = repo.Create(context.Background(), e)
	require.Error(t, err)
	assert.NotErrorIs(t, err, enrollment.ErrAlreadyLive)
}

func TestEnrollmentRepo_UpdateCompareAndSwap(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewEnrollmentRepo(db)
	ctx := context.Background()
	e := &domain.Enrollment{ID: "e1", Status: domain.EnrollmentActive, CurrentStep: 2, UpdatedAt: t0}
	expect := enrollment.Expect{Status: domain.EnrollmentActive, Step: 1}

	mock.ExpectExec("UPDATE automation_enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(ctx, e, expect))

	mock.ExpectExec("UPDATE automation_enrollments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	assert.ErrorIs(t, repo.Update(ctx, e, expect), enrollment.ErrConflict)

	mock.ExpectExec("UPDATE automation_enrollments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	assert.ErrorIs(t, repo.Update(ctx, e, expect), enrollment.ErrNotFound)
}

func TestEnrollmentRepo_GetAndDue(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewEnrollmentRepo(db)
	ctx := context.Background()

	mock.ExpectQuery("FROM automation_enrollments WHERE id").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(enrollmentCols))
	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, enrollment.ErrNotFound)

	mock.ExpectQuery("next_send_at <= \\$1").
		WithArgs(t0, enrollment.DefaultBatchSize).
		WillReturnRows(sqlmock.NewRows(enrollmentCols).
			AddRow("e1", "s1", "optin", "active", 1, t0.Add(-time.Hour), t0.Add(-2*time.Hour), t0, nil, nil, "").
			AddRow("e2", "s2", "optin", "active", 2, t0, t0.Add(-3*time.Hour), t0, nil, nil, ""))
	due, err := repo.Due(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "e1", due[0].ID)
	require.NotNil(t, due[0].NextSendAt)
	assert.Equal(t, t0.Add(-time.Hour), *due[0].NextSendAt)
	assert.Nil(t, due[0].CompletedAt)
}

func TestSequenceSource_LoadGroupsSteps(t *testing.T) {
	db, mock := setupTestDB(t)
	src := NewSequenceSource(db)

	mock.ExpectQuery("FROM automation_sequences").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "trigger_type", "trigger_value",
			"trigger_namespace", "exit_tag", "exit_on_reply", "exit_on_click", "channel"}).
			AddRow("graduate", "Graduation", true, "lifecycle_event", "course_completed", "lms", "", false, false, "email").
			AddRow("optin", "Welcome", true, "tag_added", "optin", "", " Purchased ", true, false, "email"))
	mock.ExpectQuery("FROM automation_sequence_steps").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_id", "position", "subject", "body",
			"delay_days", "delay_hours", "delay_minutes", "active"}).
			AddRow("optin", 1, "Hi", "Welcome", 0, 0, 0, true).
			AddRow("optin", 2, "Day 2", "More", 1, 0, 0, true).
			AddRow("orphan", 1, "x", "y", 0, 0, 0, true))

	defs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, domain.LifecycleEvent{Name: "course_completed", Namespace: "lms"}, defs[0].Trigger)
	assert.Empty(t, defs[0].Steps)

	assert.Equal(t, domain.TagAdded{Label: "optin"}, defs[1].Trigger)
	assert.Equal(t, "purchased", defs[1].ExitTag)
	require.Len(t, defs[1].Steps, 2)
	assert.Equal(t, 24*time.Hour, defs[1].Steps[1].Delay.Duration())
}

func TestSequenceSource_SaveReplacesSteps(t *testing.T) {
	db, mock := setupTestDB(t)
	src := NewSequenceSource(db)

	def := domain.SequenceDefinition{
		ID: "optin", Name: "Welcome", Active: true,
		Trigger: domain.TagAdded{Label: "optin"}, ExitTag: "purchased",
		Steps: []domain.StepDefinition{
			{Position: 1, Subject: "Hi", Body: "Welcome", Active: true},
			{Position: 2, Subject: "Day 2", Body: "More", Delay: domain.Delay{Days: 2}, Active: true},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO automation_sequences").
		WithArgs("optin", "Welcome", true, "tag_added", "optin", "", "purchased", false, false, domain.ChannelEmail).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM automation_sequence_steps").
		WithArgs("optin").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO automation_sequence_steps").
		WithArgs("optin", 1, "Hi", "Welcome", 0, 0, 0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO automation_sequence_steps").
		WithArgs("optin", 2, "Day 2", "More", 2, 0, 0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, src.Save(context.Background(), def))
}

func TestSequenceSource_SaveRollsBackOnStepError(t *testing.T) {
	db, mock := setupTestDB(t)
	src := NewSequenceSource(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO automation_sequences").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM automation_sequence_steps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO automation_sequence_steps").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := src.Save(context.Background(), domain.SequenceDefinition{
		ID: "optin", Name: "Welcome", Trigger: domain.TagAdded{Label: "optin"},
		Steps: []domain.StepDefinition{{Position: 1, Body: "x", Active: true}},
	})
	assert.ErrorContains(t, err, "save step 1")
}

func TestSubjectRepo_GetMissingIsNil(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubjectRepo(db)

	mock.ExpectQuery("FROM automation_subjects").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	s, err := repo.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, s)

	mock.ExpectQuery("SELECT assigned_resource").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"assigned_resource"}))
	res, err := repo.AssignedResource(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSubjectRepo_UpdateDerived(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubjectRepo(db)

	mock.ExpectExec("INSERT INTO automation_subjects").
		WithArgs("s1", 130, "hot").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateDerived(context.Background(), "s1", domain.Score{Value: 130, Tier: domain.TierHot}))
}

func TestActivityRepo_CandidatesPagesAfterCursor(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewActivityRepo(db)

	mock.ExpectQuery("WHERE subject_id > \\$1").
		WithArgs("b", 2).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}).AddRow("c").AddRow("d"))

	ids, err := repo.Candidates(context.Background(), "b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids)
}

func TestActivityRepo_SnapshotWithoutActivityIsNil(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewActivityRepo(db)

	mock.ExpectQuery("FROM automation_logins").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"last_login_at"}))
	mock.ExpectQuery("FROM automation_units").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "done", "last_at", "last_title", "next_title"}).
			AddRow(4, 0, nil, nil, "Intro"))

	snap, err := repo.Snapshot(context.Background(), "s1", t0)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestActivityRepo_Snapshot(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewActivityRepo(db)
	login := t0.Add(-8 * 24 * time.Hour)
	done := t0.Add(-2 * time.Hour)

	mock.ExpectQuery("FROM automation_logins").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"last_login_at"}).AddRow(login))
	mock.ExpectQuery("FROM automation_units").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "done", "last_at", "last_title", "next_title"}).
			AddRow(4, 3, done, "Module 3", "Module 4"))
	mock.ExpectQuery("SELECT first_name, email").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"first_name", "email"}).AddRow("Ana", "ana@example.com"))

	snap, err := repo.Snapshot(context.Background(), "s1", t0)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 75.0, snap.ProgressPercent)
	assert.True(t, snap.CompletedToday)
	assert.Equal(t, "Module 4", snap.NextUnitTitle)
	assert.Equal(t, "Module 3", snap.LastCompletedUnit)
	assert.Equal(t, "Ana", snap.FirstName)
	require.NotNil(t, snap.LastLoginAt)
	assert.Equal(t, login, *snap.LastLoginAt)
}

func TestTickRunRepo_RecordAndRecent(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewTickRunRepo(db)
	s := domain.TickSummary{ID: "t1", Kind: domain.TickDispatch, StartedAt: t0, FinishedAt: t0.Add(time.Second), Attempted: 3, Sent: 2, Failed: 1}

	mock.ExpectExec("INSERT INTO automation_tick_runs").
		WithArgs("t1", "dispatch", t0, t0.Add(time.Second), 3, 2, 1, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Record(context.Background(), s))

	mock.ExpectQuery("FROM automation_tick_runs").WithArgs("dispatch", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "started_at", "finished_at", "attempted",
			"sent", "failed", "skipped", "skipped_cooldown", "deferred"}).
			AddRow("t1", "dispatch", t0, t0.Add(time.Second), 3, 2, 1, 0, 0, 0))
	runs, err := repo.Recent(context.Background(), domain.TickDispatch, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, s, runs[0])
}
