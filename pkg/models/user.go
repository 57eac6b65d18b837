package models

// User is an authenticated identity admitted to a room. Community is empty
// when the identity provider's groups did not map to any configured community.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Community string `json:"community,omitempty"`
	IsAdmin   bool   `json:"isAdmin"`
}
