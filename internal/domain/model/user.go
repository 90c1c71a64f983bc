package model

import "time"

// User is the slice of the account record that session creation needs.
type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
}

func (u *User) IsZero() bool { return u == nil || u.ID == 0 }
