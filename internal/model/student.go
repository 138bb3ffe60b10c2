package model

import "time"

// Student is a student account able to take tests.
type Student struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
