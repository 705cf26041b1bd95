package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/relay"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewWithDB(db, DialectPostgres)
	store.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return store, mock
}

func TestRebind(t *testing.T) {
	pg := NewWithDB(nil, DialectPostgres)
	got := pg.rebind("UPDATE chats SET a = ?, b = ? WHERE uuid = ?")
	want := "UPDATE chats SET a = $1, b = $2 WHERE uuid = $3"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	lite := NewWithDB(nil, DialectSQLite)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind() = %q", got)
	}
}

func TestPostgres_ActiveAccessTokens(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE deployment_id = $1 AND expires_at > $2")).
		WithArgs("d1", now).
		WillReturnRows(sqlmock.NewRows([]string{"deployment_id", "token_hash", "user_id", "expires_at"}).
			AddRow("d1", "salt:hash", int64(42), expires))

	records, err := store.ActiveAccessTokens(context.Background(), "d1", now)
	if err != nil {
		t.Fatalf("ActiveAccessTokens() error = %v", err)
	}
	if len(records) != 1 || records[0].UserID != 42 || records[0].TokenHash != "salt:hash" || !records[0].ExpiresAt.Equal(expires) {
		t.Errorf("unexpected records %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_PersistTurn(t *testing.T) {
	turn := relay.Turn{
		ThreadID:         "t1",
		ConversationID:   9,
		Message:          "C",
		History:          "AB",
		SmartSuggestions: nil,
		Terminated:       true,
	}

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "both rows updated in one transaction",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations")).
					WithArgs(false, "C", "AB", sqlmock.AnyArg(), int64(9)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta("UPDATE chats")).
					WithArgs(TeamStatusCompleted, true, "[]", sqlmock.AnyArg(), "t1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "chat update failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations")).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta("UPDATE chats")).
					WillReturnError(errors.New("deadlock detected"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockStore(t)
			tt.setupMock(mock)

			err := store.PersistTurn(context.Background(), turn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PersistTurn() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !apperrors.IsCode(err, apperrors.ErrCodeStorageWrite) {
				t.Errorf("expected STORAGE_WRITE, got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgres_StartConversation(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chats")).
		WithArgs("t1", int64(7), TeamStatusInProgress, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO conversations")).
		WithArgs("t1", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectCommit()

	id, err := store.StartConversation(context.Background(), "t1", 7)
	if err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
	if id != 31 {
		t.Errorf("StartConversation() = %d, want 31", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_StartConversationRefusesOtherOwner(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE chats.user_id = excluded.user_id")).
		WithArgs("t1", int64(8), TeamStatusInProgress, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.StartConversation(context.Background(), "t1", 8)
	if !errors.Is(err, ErrChatOwnedByOther) {
		t.Fatalf("StartConversation() err = %v, want ErrChatOwnedByOther", err)
	}
	if !apperrors.IsCode(err, apperrors.ErrCodeAuthorization) {
		t.Errorf("code = %v, want AUTHORIZATION", apperrors.GetCode(err))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_ChatOwner(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM chats WHERE uuid = $1")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM chats WHERE uuid = $1")).
		WithArgs("t2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	owner, found, err := store.ChatOwner(context.Background(), "t1")
	if err != nil || !found || owner != 7 {
		t.Fatalf("ChatOwner(t1) = %d, %v, %v", owner, found, err)
	}
	if _, found, err := store.ChatOwner(context.Background(), "t2"); err != nil || found {
		t.Fatalf("ChatOwner(t2) = found %v, err %v", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
