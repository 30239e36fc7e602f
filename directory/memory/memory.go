// Package memory is an in-process [authbridge.UserDirectory] for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrEthical07/authbridge"
	"github.com/oklog/ulid/v2"
)

// Directory keeps users in a map keyed by lowercased email.
type Directory struct {
	mu    sync.RWMutex
	users map[string]authbridge.User
}

func New(users ...authbridge.User) *Directory {
	d := &Directory{users: make(map[string]authbridge.User, len(users))}
	for _, u := range users {
		d.users[u.Email()] = u
	}
	return d
}

func (d *Directory) FindByEmail(_ context.Context, email string) (authbridge.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[key(email)]
	if !ok {
		return authbridge.User{}, authbridge.ErrUserNotFound
	}
	return u, nil
}

// CreateUser stores user under a fresh ULID when it has no id.
func (d *Directory) CreateUser(_ context.Context, user authbridge.User) (authbridge.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[user.Email()]; exists {
		return authbridge.User{}, fmt.Errorf("user %s already exists", user.Email())
	}
	if user.ID() == "" {
		p := user.Params()
		p.ID = ulid.Make().String()
		created, err := authbridge.NewUser(p)
		if err != nil {
			return authbridge.User{}, err
		}
		user = created
	}
	d.users[user.Email()] = user
	return user, nil
}

func (d *Directory) LinkExternalIdentity(_ context.Context, email, externalID string) error {
	return d.update(email, func(u authbridge.User) (authbridge.User, error) {
		return u.WithExternalID(externalID)
	})
}

func (d *Directory) ClearPasswordHash(_ context.Context, email string) error {
	return d.update(email, func(u authbridge.User) (authbridge.User, error) {
		return u.WithoutPassword(), nil
	})
}

func (d *Directory) SetTOTPSecret(_ context.Context, email, secret string) error {
	return d.update(email, func(u authbridge.User) (authbridge.User, error) {
		p := u.Params()
		p.TOTPSecret = secret
		return authbridge.NewUser(p)
	})
}

func (d *Directory) DeleteTOTPSecret(ctx context.Context, email string) error {
	return d.SetTOTPSecret(ctx, email, "")
}

func (d *Directory) update(email string, fn func(authbridge.User) (authbridge.User, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(email)
	u, ok := d.users[k]
	if !ok {
		return authbridge.ErrUserNotFound
	}
	next, err := fn(u)
	if err != nil {
		return err
	}
	d.users[k] = next
	return nil
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
