package users

// UserRepo is the backend's user storage.
type UserRepo interface {
	Upsert(user *User) error
	Delete(email string) error
	GetByEmail(email string) (*User, error)
	GetByID(ID string) (*User, error)
	SetVerified(email string, verified bool) error
	SetBlocked(email string, blocked bool) error
}
