package models

import "time"

// PersonType distinguishes individual (PF) from business (PJ) customers.
type PersonType string

const (
	PersonIndividual PersonType = "PF"
	PersonBusiness   PersonType = "PJ"
)

// Valid reports whether t is a known person type.
func (t PersonType) Valid() bool {
	return t == PersonIndividual || t == PersonBusiness
}

// User represents a customer in the system
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Document     string     `json:"document"`
	PersonType   PersonType `json:"person_type"`
	PasswordHash string     `json:"-"` // Not serialized
	CreatedAt    time.Time  `json:"created_at"`
}
