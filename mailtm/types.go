package mailtm

import "time"

// LinkedData holds the JSON-LD keys the API attaches to most resources.
// The "@" prefixed keys are mapped onto plain Go field names.
type LinkedData struct {
	Context string `json:"@context,omitempty"`
	IRI     string `json:"@id,omitempty"`
	Type    string `json:"@type,omitempty"`
}

// collection is the hydra envelope used by list endpoints.
type collection[T any] struct {
	LinkedData
	Members    []T `json:"hydra:member"`
	TotalItems int `json:"hydra:totalItems"`
}

// Domain is a mail domain on which accounts can be created.
type Domain struct {
	LinkedData
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	IsActive  bool      `json:"isActive"`
	IsPrivate bool      `json:"isPrivate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Account is a mailbox owned by the authenticated user.
type Account struct {
	LinkedData
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	Quota      int64     `json:"quota"`
	Used       int64     `json:"used"`
	IsDisabled bool      `json:"isDisabled"`
	IsDeleted  bool      `json:"isDeleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TokenResponse is returned by POST /token.
type TokenResponse struct {
	LinkedData
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Recipient is a name/address pair on a message.
type Recipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// String formats the recipient like an RFC 5322 mailbox.
func (r Recipient) String() string {
	if r.Name == "" {
		return r.Address
	}
	return r.Name + " <" + r.Address + ">"
}

// Attachment describes a file attached to a message.
type Attachment struct {
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	ContentType      string `json:"contentType"`
	Disposition      string `json:"disposition"`
	TransferEncoding string `json:"transferEncoding"`
	Related          bool   `json:"related"`
	Size             int64  `json:"size"`
	DownloadURL      string `json:"downloadUrl"`
}

// Message is the summary form returned by the message list.
type Message struct {
	LinkedData
	ID             string      `json:"id"`
	AccountID      string      `json:"accountId"`
	MsgID          string      `json:"msgid"`
	From           *Recipient  `json:"from"`
	To             []Recipient `json:"to"`
	Subject        string      `json:"subject"`
	Intro          string      `json:"intro"`
	Seen           bool        `json:"seen"`
	IsDeleted      bool        `json:"isDeleted"`
	HasAttachments bool        `json:"hasAttachments"`
	Size           int64       `json:"size"`
	DownloadURL    string      `json:"downloadUrl"`
	SourceURL      string      `json:"sourceUrl"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Sender returns the formatted From recipient, or "" when absent.
func (m Message) Sender() string {
	if m.From == nil {
		return ""
	}
	return m.From.String()
}

// MessageDetail is a single message with its bodies and attachments. Every
// Message field is available on it directly.
type MessageDetail struct {
	Message
	CC            []Recipient  `json:"cc"`
	BCC           []Recipient  `json:"bcc"`
	Verifications []string     `json:"verifications"`
	Retention     bool         `json:"retention"`
	RetentionDate time.Time    `json:"retentionDate"`
	Text          string       `json:"text"`
	HTML          []string     `json:"html"`
	Attachments   []Attachment `json:"attachments"`
	Flagged       bool         `json:"flagged"`
}

// MessageSource is the raw RFC 5322 form of a message.
type MessageSource struct {
	LinkedData
	ID          string `json:"id"`
	DownloadURL string `json:"downloadUrl"`
	Data        string `json:"data"`
}

// accountRequest is the body of POST /accounts and POST /token.
type accountRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}
