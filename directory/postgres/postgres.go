// Package postgres is an [authbridge.UserDirectory] backed by a PostgreSQL
// users table, accessed through database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authbridge"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrUserExists is returned by CreateUser on an email or external id clash.
	ErrUserExists = errors.New("user already exists")
)

const uniqueViolation = "23505"

var _ authbridge.UserDirectory = (*Directory)(nil)

// Directory implements authbridge.UserDirectory.
type Directory struct {
	db *sql.DB
}

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

const selectUser = `select id, email, username, array_to_string(authorities, ','),
	coalesce(password_hash, ''), coalesce(external_id, ''), coalesce(totp_secret, ''), active
	from users where email=$1`

func (d *Directory) FindByEmail(ctx context.Context, email string) (authbridge.User, error) {
	var p authbridge.UserParams
	var authorities string
	err := d.db.QueryRowContext(ctx, selectUser, normalize(email)).Scan(
		&p.ID, &p.Email, &p.Username, &authorities,
		&p.PasswordHash, &p.ExternalID, &p.TOTPSecret, &p.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authbridge.User{}, authbridge.ErrUserNotFound
		}
		return authbridge.User{}, err
	}
	if authorities != "" {
		p.Authorities = strings.Split(authorities, ",")
	}
	return authbridge.NewUser(p)
}

// CreateUser inserts user, assigning a ULID when it has no id.
func (d *Directory) CreateUser(ctx context.Context, user authbridge.User) (authbridge.User, error) {
	p := user.Params()
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}

	_, err := d.db.ExecContext(ctx,
		`insert into users(id, email, username, authorities, password_hash, external_id, totp_secret, active)
		values($1, $2, $3, string_to_array($4, ','), nullif($5, ''), nullif($6, ''), nullif($7, ''), $8)`,
		p.ID, user.Email(), user.Username(), strings.Join(p.Authorities, ","),
		p.PasswordHash, p.ExternalID, p.TOTPSecret, p.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authbridge.User{}, fmt.Errorf("%w: %s", ErrUserExists, user.Email())
		}
		return authbridge.User{}, err
	}
	return authbridge.NewUser(p)
}

func (d *Directory) LinkExternalIdentity(ctx context.Context, email, externalID string) error {
	return d.exec(ctx, `update users set external_id=$2 where email=$1`, email, externalID)
}

func (d *Directory) ClearPasswordHash(ctx context.Context, email string) error {
	return d.exec(ctx, `update users set password_hash=null where email=$1`, email)
}

func (d *Directory) SetTOTPSecret(ctx context.Context, email, secret string) error {
	return d.exec(ctx, `update users set totp_secret=$2 where email=$1`, email, secret)
}

func (d *Directory) DeleteTOTPSecret(ctx context.Context, email string) error {
	return d.exec(ctx, `update users set totp_secret=null where email=$1`, email)
}

// exec runs a single-row update keyed by email; zero affected rows means the
// user does not exist.
func (d *Directory) exec(ctx context.Context, query, email string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, append([]any{normalize(email)}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authbridge.ErrUserNotFound
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
