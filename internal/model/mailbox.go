package model

import "time"

// Mailbox is a mail.tm account known to this machine.
type Mailbox struct {
	// ID is the account id assigned by the API.
	ID string `json:"id" db:"id"`

	// Address is the full e-mail address of the account.
	Address string `json:"address" db:"address"`

	// Domain is the part of Address after the "@".
	Domain string `json:"domain" db:"domain"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}
