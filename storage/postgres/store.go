// Package postgres provides a PostgreSQL implementation of all storage interfaces.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/giantswarm/authd/storage"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// codeColumns lists columns returned by authorization code SELECT queries.
var codeColumns = []string{
	"code", "client_id", "redirect_uri", "scope", "code_challenge",
	"code_challenge_method", "user_id", "created_at", "expires_at",
	"used", "used_at", "revoked",
}

// refreshColumns lists columns returned by refresh token SELECT queries.
var refreshColumns = []string{
	"id", "user_id", "client_id", "scope", "family_id", "generation",
	"access_token_id", "created_at", "expires_at",
	"used", "used_at", "revoked", "revoked_at",
}

// Store implements storage.Store using PostgreSQL.
//
// Atomicity of the consume operations relies on conditional UPDATE statements:
// the database serializes the check-and-mark, so exactly one concurrent
// exchange of a code or rotation of a refresh token wins regardless of how
// many server instances share the database.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new PostgreSQL store using an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the lib/pq driver and returns a store
// backed by the new handle. The caller is responsible for closing it.
func Open(dsn string) (*Store, *sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	return New(db), db, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			client_id     TEXT PRIMARY KEY,
			client_type   TEXT NOT NULL,
			redirect_uris JSONB NOT NULL,
			client_name   TEXT NOT NULL DEFAULT '',
			grant_types   JSONB NOT NULL DEFAULT '[]',
			scopes        JSONB NOT NULL,
			secret_hash   TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
			code                  TEXT PRIMARY KEY,
			client_id             TEXT NOT NULL,
			redirect_uri          TEXT NOT NULL,
			scope                 TEXT NOT NULL DEFAULT '',
			code_challenge        TEXT NOT NULL DEFAULT '',
			code_challenge_method TEXT NOT NULL DEFAULT '',
			user_id               TEXT NOT NULL,
			created_at            TIMESTAMPTZ NOT NULL,
			expires_at            TIMESTAMPTZ NOT NULL,
			used                  BOOLEAN NOT NULL DEFAULT FALSE,
			used_at               TIMESTAMPTZ,
			revoked               BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_access_tokens (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			client_id        TEXT NOT NULL,
			scope            TEXT NOT NULL DEFAULT '',
			refresh_token_id TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			expires_at       TIMESTAMPTZ NOT NULL,
			revoked          BOOLEAN NOT NULL DEFAULT FALSE,
			revoked_at       TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			client_id       TEXT NOT NULL,
			scope           TEXT NOT NULL DEFAULT '',
			family_id       TEXT NOT NULL,
			generation      INTEGER NOT NULL,
			access_token_id TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			expires_at      TIMESTAMPTZ NOT NULL,
			used            BOOLEAN NOT NULL DEFAULT FALSE,
			used_at         TIMESTAMPTZ,
			revoked         BOOLEAN NOT NULL DEFAULT FALSE,
			revoked_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_family ON oauth_refresh_tokens (family_id)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_client ON oauth_refresh_tokens (user_id, client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_access_tokens_user_client ON oauth_access_tokens (user_id, client_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// wrapDBErr converts driver-level failures into ErrUnavailable so callers can
// apply their transient retry policy. sql.ErrNoRows is never passed here.
func wrapDBErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient inserts or updates a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshaling redirect URIs: %w", err)
	}
	grantTypes, err := json.Marshal(client.GrantTypes)
	if err != nil {
		return fmt.Errorf("marshaling grant types: %w", err)
	}
	scopes, err := json.Marshal(client.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}

	query := `
		INSERT INTO oauth_clients (client_id, client_type, redirect_uris, client_name, grant_types, scopes, secret_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (client_id) DO UPDATE
		SET client_type = EXCLUDED.client_type,
		    redirect_uris = EXCLUDED.redirect_uris,
		    client_name = EXCLUDED.client_name,
		    grant_types = EXCLUDED.grant_types,
		    scopes = EXCLUDED.scopes,
		    secret_hash = EXCLUDED.secret_hash
	`

	_, err = s.db.ExecContext(ctx, query,
		client.ClientID,
		client.ClientType,
		redirectURIs,
		client.ClientName,
		grantTypes,
		scopes,
		client.SecretHash,
		client.CreatedAt,
	)
	if err != nil {
		return wrapDBErr("saving client", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	query := `
		SELECT client_id, client_type, redirect_uris, client_name, grant_types, scopes, secret_hash, created_at
		FROM oauth_clients
		WHERE client_id = $1
	`

	var client storage.Client
	var redirectURIs, grantTypes, scopes []byte

	err := s.db.QueryRowContext(ctx, query, clientID).Scan(
		&client.ClientID,
		&client.ClientType,
		&redirectURIs,
		&client.ClientName,
		&grantTypes,
		&scopes,
		&client.SecretHash,
		&client.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	if err != nil {
		return nil, wrapDBErr("getting client", err)
	}

	if err := json.Unmarshal(redirectURIs, &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshaling redirect URIs: %w", err)
	}
	if err := json.Unmarshal(grantTypes, &client.GrantTypes); err != nil {
		return nil, fmt.Errorf("unmarshaling grant types: %w", err)
	}
	if err := json.Unmarshal(scopes, &client.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}

	return &client, nil
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	query, args, err := psq.
		Select("client_id", "client_type", "redirect_uris", "client_name", "grant_types", "scopes", "secret_hash", "created_at").
		From("oauth_clients").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building client query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("listing clients", err)
	}
	defer func() { _ = rows.Close() }()

	clients := make([]*storage.Client, 0)
	for rows.Next() {
		var client storage.Client
		var redirectURIs, grantTypes, scopes []byte

		if err := rows.Scan(
			&client.ClientID,
			&client.ClientType,
			&redirectURIs,
			&client.ClientName,
			&grantTypes,
			&scopes,
			&client.SecretHash,
			&client.CreatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(redirectURIs, &client.RedirectURIs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(grantTypes, &client.GrantTypes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scopes, &client.Scopes); err != nil {
			return nil, err
		}

		clients = append(clients, &client)
	}

	return clients, rows.Err()
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	query := `
		INSERT INTO oauth_authorization_codes
		(code, client_id, redirect_uri, scope, code_challenge, code_challenge_method, user_id, created_at, expires_at, used, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		code.Code,
		code.ClientID,
		code.RedirectURI,
		code.Scope,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.UserID,
		code.CreatedAt,
		code.ExpiresAt,
		code.Used,
		code.Revoked,
	)
	if err != nil {
		return wrapDBErr("saving authorization code", err)
	}
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, codeValue string) (*storage.AuthorizationCode, error) {
	query, args, err := psq.
		Select(codeColumns...).
		From("oauth_authorization_codes").
		Where(sq.Eq{"code": codeValue}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building code query: %w", err)
	}

	code, err := s.scanCode(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("getting authorization code", err)
	}
	return code, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks
// it used. The conditional UPDATE is the atomicity primitive: only one
// concurrent exchange observes RowsAffected == 1.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeValue string) (*storage.AuthorizationCode, error) {
	now := time.Now()

	query := `
		UPDATE oauth_authorization_codes
		SET used = TRUE, used_at = $2
		WHERE code = $1 AND used = FALSE AND revoked = FALSE AND expires_at > $2
		RETURNING ` + columnList(codeColumns)

	code, err := s.scanCode(s.db.QueryRowContext(ctx, query, codeValue, now))
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErr("consuming authorization code", err)
	}

	// The conditional update matched nothing. Read the row to classify why.
	code, getErr := s.GetAuthorizationCode(ctx, codeValue)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case code.Revoked:
		return nil, fmt.Errorf("%w: authorization code", storage.ErrRevoked)
	case code.Used:
		// Replay: return the record so the caller can revoke issued tokens
		return code, fmt.Errorf("%w: authorization code", storage.ErrReplayed)
	default:
		return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
	}
}

// RevokeAuthorizationCode marks a code revoked. Idempotent.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, codeValue string) error {
	query, args, err := psq.
		Update("oauth_authorization_codes").
		Set("revoked", true).
		Where(sq.Eq{"code": codeValue, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building code revocation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapDBErr("revoking authorization code", err)
	}
	return nil
}

func (s *Store) scanCode(row *sql.Row) (*storage.AuthorizationCode, error) {
	var code storage.AuthorizationCode
	var usedAt sql.NullTime

	err := row.Scan(
		&code.Code,
		&code.ClientID,
		&code.RedirectURI,
		&code.Scope,
		&code.CodeChallenge,
		&code.CodeChallengeMethod,
		&code.UserID,
		&code.CreatedAt,
		&code.ExpiresAt,
		&code.Used,
		&usedAt,
		&code.Revoked,
	)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		code.UsedAt = usedAt.Time
	}
	return &code, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken saves an issued access token record.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("invalid access token")
	}

	query := `
		INSERT INTO oauth_access_tokens
		(id, user_id, client_id, scope, refresh_token_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.ClientID,
		token.Scope,
		token.RefreshTokenID,
		token.CreatedAt,
		token.ExpiresAt,
		token.Revoked,
	)
	if err != nil {
		return wrapDBErr("saving access token", err)
	}
	return nil
}

// GetAccessToken retrieves an access token record by ID.
func (s *Store) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	query := `
		SELECT id, user_id, client_id, scope, refresh_token_id, created_at, expires_at, revoked, revoked_at
		FROM oauth_access_tokens
		WHERE id = $1
	`

	var token storage.AccessToken
	var revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&token.ID,
		&token.UserID,
		&token.ClientID,
		&token.Scope,
		&token.RefreshTokenID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Revoked,
		&revokedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: access token", storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("getting access token", err)
	}

	if revokedAt.Valid {
		token.RevokedAt = revokedAt.Time
	}
	if token.Revoked {
		return nil, fmt.Errorf("%w: access token", storage.ErrRevoked)
	}

	return &token, nil
}

// RevokeAccessToken marks an access token revoked. Idempotent.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	query, args, err := psq.
		Update("oauth_access_tokens").
		Set("revoked", true).
		Set("revoked_at", time.Now()).
		Where(sq.Eq{"id": id, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building access token revocation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapDBErr("revoking access token", err)
	}
	return nil
}

// SaveRefreshToken saves an issued refresh token record.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("invalid refresh token")
	}
	if token.FamilyID == "" {
		return fmt.Errorf("refresh token requires a family ID")
	}

	query := `
		INSERT INTO oauth_refresh_tokens
		(id, user_id, client_id, scope, family_id, generation, access_token_id, created_at, expires_at, used, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.ClientID,
		token.Scope,
		token.FamilyID,
		token.Generation,
		token.AccessTokenID,
		token.CreatedAt,
		token.ExpiresAt,
		token.Used,
		token.Revoked,
	)
	if err != nil {
		return wrapDBErr("saving refresh token", err)
	}
	return nil
}

// GetRefreshToken retrieves a refresh token record by ID without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	query := `
		SELECT ` + columnList(refreshColumns) + `
		FROM oauth_refresh_tokens
		WHERE id = $1
	`

	token, err := s.scanRefreshToken(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("getting refresh token", err)
	}
	return token, nil
}

// ConsumeRefreshToken atomically checks that a refresh token is unrotated and
// marks it rotated. See ConsumeAuthorizationCode for the atomicity mechanism.
func (s *Store) ConsumeRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	now := time.Now()

	query := `
		UPDATE oauth_refresh_tokens
		SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE AND revoked = FALSE AND expires_at > $2
		RETURNING ` + columnList(refreshColumns)

	token, err := s.scanRefreshToken(s.db.QueryRowContext(ctx, query, id, now))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErr("consuming refresh token", err)
	}

	// The conditional update matched nothing. Read the row to classify why.
	token, getErr := s.GetRefreshToken(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case token.Revoked:
		return nil, fmt.Errorf("%w: refresh token", storage.ErrRevoked)
	case token.Used:
		// Replay: return the record so the caller can revoke the family
		return token, fmt.Errorf("%w: refresh token", storage.ErrReplayed)
	default:
		return nil, fmt.Errorf("%w: refresh token", storage.ErrExpired)
	}
}

// RevokeRefreshToken marks a single refresh token revoked. Idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	query, args, err := psq.
		Update("oauth_refresh_tokens").
		Set("revoked", true).
		Set("revoked_at", time.Now()).
		Where(sq.Eq{"id": id, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building refresh token revocation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapDBErr("revoking refresh token", err)
	}
	return nil
}

// RevokeRefreshTokenFamily revokes every refresh token in a family along with
// its paired access tokens. Returns the number of tokens newly revoked.
func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, fmt.Errorf("family ID cannot be empty")
	}
	now := time.Now()

	accessQuery := `
		UPDATE oauth_access_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE revoked = FALSE AND id IN (
			SELECT access_token_id FROM oauth_refresh_tokens WHERE family_id = $1
		)
	`
	accessRes, err := s.db.ExecContext(ctx, accessQuery, familyID, now)
	if err != nil {
		return 0, wrapDBErr("revoking family access tokens", err)
	}

	refreshQuery := `
		UPDATE oauth_refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE family_id = $1 AND revoked = FALSE
	`
	refreshRes, err := s.db.ExecContext(ctx, refreshQuery, familyID, now)
	if err != nil {
		return 0, wrapDBErr("revoking refresh token family", err)
	}

	return rowsAffected(accessRes) + rowsAffected(refreshRes), nil
}

// RevokeAllTokensForUserClient revokes all tokens for a user+client pair.
// Returns the number of tokens newly revoked.
func (s *Store) RevokeAllTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	if userID == "" || clientID == "" {
		return 0, fmt.Errorf("userID and clientID cannot be empty")
	}
	now := time.Now()
	total := 0

	for _, table := range []string{"oauth_access_tokens", "oauth_refresh_tokens"} {
		query, args, err := psq.
			Update(table).
			Set("revoked", true).
			Set("revoked_at", now).
			Where(sq.Eq{"user_id": userID, "client_id": clientID, "revoked": false}).
			ToSql()
		if err != nil {
			return total, fmt.Errorf("building revocation for %s: %w", table, err)
		}

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, wrapDBErr("revoking tokens for user+client", err)
		}
		total += rowsAffected(res)
	}

	return total, nil
}

// GetTokensByUserClient retrieves all live token IDs for a user+client pair.
func (s *Store) GetTokensByUserClient(ctx context.Context, userID, clientID string) ([]string, error) {
	ids := make([]string, 0)

	for _, table := range []string{"oauth_access_tokens", "oauth_refresh_tokens"} {
		query, args, err := psq.
			Select("id").
			From(table).
			Where(sq.Eq{"user_id": userID, "client_id": clientID, "revoked": false}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building token query for %s: %w", table, err)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrapDBErr("listing tokens for user+client", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return ids, nil
}

// CleanupExpired removes records whose expiry is older than the retention
// window. Consumed and revoked records inside the window are retained for
// replay detection.
func (s *Store) CleanupExpired(ctx context.Context, retention time.Duration) error {
	threshold := time.Now().Add(-retention)

	for _, table := range []string{"oauth_authorization_codes", "oauth_access_tokens", "oauth_refresh_tokens"} {
		query, args, err := psq.
			Delete(table).
			Where(sq.Lt{"expires_at": threshold}).
			ToSql()
		if err != nil {
			return fmt.Errorf("building cleanup for %s: %w", table, err)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return wrapDBErr("cleaning up expired records", err)
		}
	}
	return nil
}

func (s *Store) scanRefreshToken(row *sql.Row) (*storage.RefreshToken, error) {
	var token storage.RefreshToken
	var usedAt, revokedAt sql.NullTime

	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.ClientID,
		&token.Scope,
		&token.FamilyID,
		&token.Generation,
		&token.AccessTokenID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Used,
		&usedAt,
		&token.Revoked,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		token.UsedAt = usedAt.Time
	}
	if revokedAt.Valid {
		token.RevokedAt = revokedAt.Time
	}
	return &token, nil
}

func columnList(cols []string) string {
	return strings.Join(cols, ", ")
}

func rowsAffected(res sql.Result) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
