package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputhaven/inputhaven/internal/domain"
)

func TestCreateEmailQueueEntryDefaults(t *testing.T) {
	store, mock := newTestStorage(t)

	mock.ExpectExec("INSERT INTO email_queue").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &domain.EmailQueueEntry{SubmissionID: "sub-1", To: "a@acme.test", Subject: "s"}
	require.NoError(t, store.CreateEmailQueueEntry(context.Background(), e))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, domain.EmailPending, e.Status)
}

func TestDueEmailEntries(t *testing.T) {
	store, mock := newTestStorage(t)
	now := time.Now()

	mock.ExpectQuery("FROM email_queue eq").
		WithArgs(domain.EmailPending, 3, now, 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "submission_id", "recipient", "subject", "status",
			"attempts", "next_retry_at", "last_error", "created_at",
			"name", "data", "created_at",
		}).AddRow(
			"e1", "sub-1", "a@acme.test", "New submission from Contact", "PENDING",
			1, now.Add(-time.Minute), "timeout", now.Add(-time.Hour),
			"Contact", []byte(`{"name":"Ada"}`), now.Add(-time.Hour),
		))

	items, err := store.DueEmailEntries(context.Background(), now, 3, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "a@acme.test", item.Entry.To)
	assert.Equal(t, 1, item.Entry.Attempts)
	assert.Equal(t, "Contact", item.FormName)
	assert.Equal(t, "Ada", item.SubmissionData["name"])
}

func TestMarkEmailTransitions(t *testing.T) {
	store, mock := newTestStorage(t)
	next := time.Now().Add(5 * time.Minute)

	mock.ExpectExec("UPDATE email_queue").
		WithArgs("e1", domain.EmailSent, "ses-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_queue").
		WithArgs("e2", domain.EmailPending, next, "throttled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_queue").
		WithArgs("e3", domain.EmailFailed, "bounced").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkEmailSent(context.Background(), "e1", "ses-123"))
	require.NoError(t, store.MarkEmailRetry(context.Background(), "e2", next, "throttled"))
	require.NoError(t, store.MarkEmailFailed(context.Background(), "e3", "bounced"))
	require.NoError(t, mock.ExpectationsWereMet())
}
