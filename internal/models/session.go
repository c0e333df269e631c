package models

import "time"

// PairSession binds a pseudonym token to an unordered pair of users.
// UserA < UserB always; callers normalize before lookup.
type PairSession struct {
	UserA          int64     `json:"userA"`
	UserB          int64     `json:"userB"`
	Token          string    `json:"token"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// NormalizePair returns the two user IDs in canonical (ascending) order.
func NormalizePair(x, y int64) (int64, int64) {
	if x > y {
		return y, x
	}
	return x, y
}
