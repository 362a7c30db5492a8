package model

import "time"

// ArchivedMessage is the locally stored summary of a message.
type ArchivedMessage struct {
	ID             string    `json:"id" db:"id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	MsgID          string    `json:"msgid" db:"msgid"`
	FromAddress    string    `json:"from_address" db:"from_address"`
	FromName       string    `json:"from_name" db:"from_name"`
	Subject        string    `json:"subject" db:"subject"`
	Intro          string    `json:"intro" db:"intro"`
	Seen           bool      `json:"seen" db:"seen"`
	HasAttachments bool      `json:"has_attachments" db:"has_attachments"`
	Size           int64     `json:"size" db:"size"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	FetchedAt      time.Time `json:"fetched_at" db:"fetched_at"`
}

// Sender formats the From fields for display.
func (m ArchivedMessage) Sender() string {
	if m.FromName == "" {
		return m.FromAddress
	}
	return m.FromName + " <" + m.FromAddress + ">"
}
