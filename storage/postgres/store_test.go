package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/authd/storage"
)

const (
	testClientID    = "test-client"
	testUserID      = "user-123"
	testCodeValue   = "authcode-abc"
	testTokenID     = "refresh-xyz"
	testAccessID    = "access-abc"
	testFamilyID    = "family-1"
	testScope       = "openid profile"
	testRedirectURI = "http://localhost/callback"
)

func testClient() *storage.Client {
	return &storage.Client{
		ClientID:     testClientID,
		ClientType:   "confidential",
		RedirectURIs: []string{testRedirectURI},
		ClientName:   "Test Client",
		Scopes:       []string{"openid", "profile"},
		CreatedAt:    time.Now().Truncate(time.Second),
	}
}

func testAuthCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                testCodeValue,
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               testScope,
		CodeChallenge:       "challenge123",
		CodeChallengeMethod: "S256",
		UserID:              testUserID,
		CreatedAt:           time.Now().Truncate(time.Second),
		ExpiresAt:           time.Now().Add(time.Minute).Truncate(time.Second),
	}
}

func testRefreshToken() *storage.RefreshToken {
	return &storage.RefreshToken{
		ID:            testTokenID,
		UserID:        testUserID,
		ClientID:      testClientID,
		Scope:         testScope,
		FamilyID:      testFamilyID,
		Generation:    1,
		AccessTokenID: testAccessID,
		CreatedAt:     time.Now().Truncate(time.Second),
		ExpiresAt:     time.Now().Add(time.Hour).Truncate(time.Second),
	}
}

func codeRows(code *storage.AuthorizationCode) *sqlmock.Rows {
	return sqlmock.NewRows(codeColumns).AddRow(
		code.Code, code.ClientID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.UserID,
		code.CreatedAt, code.ExpiresAt, code.Used, nil, code.Revoked,
	)
}

func refreshRows(token *storage.RefreshToken) *sqlmock.Rows {
	return sqlmock.NewRows(refreshColumns).AddRow(
		token.ID, token.UserID, token.ClientID, token.Scope,
		token.FamilyID, token.Generation, token.AccessTokenID,
		token.CreatedAt, token.ExpiresAt, token.Used, nil, token.Revoked, nil,
	)
}

func TestSaveClient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)
	client := testClient()

	mock.ExpectExec("INSERT INTO oauth_clients").
		WithArgs(client.ClientID, client.ClientType, sqlmock.AnyArg(),
			client.ClientName, sqlmock.AnyArg(), sqlmock.AnyArg(),
			client.SecretHash, client.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.SaveClient(context.Background(), client)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetClient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)
	client := testClient()

	rows := sqlmock.NewRows([]string{"client_id", "client_type", "redirect_uris", "client_name", "grant_types", "scopes", "secret_hash", "created_at"}).
		AddRow(client.ClientID, client.ClientType, []byte(`["http://localhost/callback"]`),
			client.ClientName, []byte(`["authorization_code","refresh_token"]`),
			[]byte(`["openid","profile"]`), client.SecretHash, client.CreatedAt)

	mock.ExpectQuery("SELECT (.+) FROM oauth_clients").
		WithArgs(testClientID).
		WillReturnRows(rows)

	got, err := store.GetClient(context.Background(), testClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)
	assert.Equal(t, []string{"http://localhost/callback"}, got.RedirectURIs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetClient_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectQuery("SELECT (.+) FROM oauth_clients").
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}))

	_, err = store.GetClient(context.Background(), "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAuthorizationCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)
	code := testAuthCode()

	mock.ExpectExec("INSERT INTO oauth_authorization_codes").
		WithArgs(code.Code, code.ClientID, code.RedirectURI, code.Scope,
			code.CodeChallenge, code.CodeChallengeMethod, code.UserID,
			code.CreatedAt, code.ExpiresAt, false, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.SaveAuthorizationCode(context.Background(), code)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeAuthorizationCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)
	code := testAuthCode()
	code.Used = true // the RETURNING row reflects the post-update state
	code.UsedAt = time.Now()

	mock.ExpectQuery("UPDATE oauth_authorization_codes").
		WithArgs(testCodeValue, sqlmock.AnyArg()).
		WillReturnRows(codeRows(code))

	got, err := store.ConsumeAuthorizationCode(context.Background(), testCodeValue)
	require.NoError(t, err)
	assert.Equal(t, testUserID, got.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeAuthorizationCode_Replayed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	// Conditional update matches nothing
	mock.ExpectQuery("UPDATE oauth_authorization_codes").
		WithArgs(testCodeValue, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(codeColumns))

	// Classification read finds a used code
	used := testAuthCode()
	used.Used = true
	mock.ExpectQuery("SELECT (.+) FROM oauth_authorization_codes").
		WithArgs(testCodeValue).
		WillReturnRows(codeRows(used))

	got, err := store.ConsumeAuthorizationCode(context.Background(), testCodeValue)
	assert.ErrorIs(t, err, storage.ErrReplayed)
	require.NotNil(t, got, "replayed consumption must return the record for revocation")
	assert.Equal(t, testUserID, got.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeAuthorizationCode_Expired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectQuery("UPDATE oauth_authorization_codes").
		WithArgs(testCodeValue, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(codeColumns))

	expired := testAuthCode()
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM oauth_authorization_codes").
		WithArgs(testCodeValue).
		WillReturnRows(codeRows(expired))

	_, err = store.ConsumeAuthorizationCode(context.Background(), testCodeValue)
	assert.ErrorIs(t, err, storage.ErrExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeRefreshToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)
	token := testRefreshToken()
	token.Used = true

	mock.ExpectQuery("UPDATE oauth_refresh_tokens").
		WithArgs(testTokenID, sqlmock.AnyArg()).
		WillReturnRows(refreshRows(token))

	got, err := store.ConsumeRefreshToken(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Equal(t, testFamilyID, got.FamilyID)
	assert.Equal(t, 1, got.Generation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeRefreshToken_Replayed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectQuery("UPDATE oauth_refresh_tokens").
		WithArgs(testTokenID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(refreshColumns))

	used := testRefreshToken()
	used.Used = true
	mock.ExpectQuery("SELECT (.+) FROM oauth_refresh_tokens").
		WithArgs(testTokenID).
		WillReturnRows(refreshRows(used))

	got, err := store.ConsumeRefreshToken(context.Background(), testTokenID)
	assert.ErrorIs(t, err, storage.ErrReplayed)
	require.NotNil(t, got, "replayed rotation must return the record for family revocation")
	assert.Equal(t, testFamilyID, got.FamilyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeRefreshToken_Revoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectQuery("UPDATE oauth_refresh_tokens").
		WithArgs(testTokenID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(refreshColumns))

	revoked := testRefreshToken()
	revoked.Revoked = true
	mock.ExpectQuery("SELECT (.+) FROM oauth_refresh_tokens").
		WithArgs(testTokenID).
		WillReturnRows(refreshRows(revoked))

	_, err = store.ConsumeRefreshToken(context.Background(), testTokenID)
	assert.ErrorIs(t, err, storage.ErrRevoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeRefreshTokenFamily(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectExec("UPDATE oauth_access_tokens").
		WithArgs(testFamilyID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE oauth_refresh_tokens").
		WithArgs(testFamilyID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.RevokeRefreshTokenFamily(context.Background(), testFamilyID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAccessToken_Idempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	// Zero rows affected (already revoked or unknown) is still success
	mock.ExpectExec("UPDATE oauth_access_tokens").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.RevokeAccessToken(context.Background(), testAccessID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllTokensForUserClient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectExec("UPDATE oauth_access_tokens").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE oauth_refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := store.RevokeAllTokensForUserClient(context.Background(), testUserID, testClientID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRefreshToken_RequiresFamily(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)
	token := testRefreshToken()
	token.FamilyID = ""

	err = store.SaveRefreshToken(context.Background(), token)
	assert.Error(t, err)
}

func TestDatabaseFailure_MapsToUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectExec("INSERT INTO oauth_access_tokens").
		WillReturnError(fmt.Errorf("connection refused"))

	at := &storage.AccessToken{
		ID:        testAccessID,
		UserID:    testUserID,
		ClientID:  testClientID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	err = store.SaveAccessToken(context.Background(), at)
	assert.True(t, errors.Is(err, storage.ErrUnavailable), "driver failures should map to ErrUnavailable, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	store := New(db)

	mock.ExpectExec("DELETE FROM oauth_authorization_codes").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM oauth_access_tokens").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM oauth_refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 5))

	err = store.CleanupExpired(context.Background(), 24*time.Hour)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
