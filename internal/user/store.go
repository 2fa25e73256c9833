package user

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Siphon/internal/database"
)

var ErrUserNotFound = errors.New("user does not exist")

type (
	// User is the owning identity for imported media. Siphon performs no
	// authentication; users exist purely so that imports can be attributed.
	User struct {
		ID        uuid.UUID `db:"id"`
		Username  string    `db:"username"`
		Email     string    `db:"email"`
		CreatedAt time.Time `db:"created_at"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

func (store *Store) Create(db database.Queryable, username string, email string) (*User, error) {
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO users(id, username, email, created_at)
		VALUES ($1, $2, $3, current_timestamp)
	`, id, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to insert new user: %w", err)
	}

	return store.GetWithID(db, id)
}

func (store *Store) List(db database.Queryable) ([]*User, error) {
	query, args, err := selectUserBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list users query: %w", err)
	}

	var results []*User
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	return results, nil
}

// GetByUsernameOrEmail finds the user whose username OR email matches the
// identifier given. Watch configurations may reference their owner by either.
func (store *Store) GetByUsernameOrEmail(db database.Queryable, identifier string) (*User, error) {
	query, args, err := selectUserBuilder().
		Where(squirrel.Or{
			squirrel.Eq{"users.username": identifier},
			squirrel.Eq{"users.email": identifier},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select user query: %w", err)
	}

	var user User
	if err := db.Get(&user, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		return nil, fmt.Errorf("failed to find user %s: %w", identifier, err)
	}

	return &user, nil
}

func (store *Store) GetWithID(db database.Queryable, id uuid.UUID) (*User, error) {
	query, args, err := selectUserBuilder().Where("users.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select user query: %w", err)
	}

	var user User
	if err := db.Get(&user, db.Rebind(query), args...); err != nil {
		return nil, ErrUserNotFound
	}

	return &user, nil
}

func selectUserBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("users.*").
		From("users")
}
