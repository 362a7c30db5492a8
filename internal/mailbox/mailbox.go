// Package mailbox ties a mail.tm session to the local archive and the
// credential store.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nhle/mailtm-go/internal/credential"
	"github.com/nhle/mailtm-go/internal/model"
	"github.com/nhle/mailtm-go/internal/store"
	"github.com/nhle/mailtm-go/mailtm"
)

// ErrNoSession is returned by operations that need Register or Open first.
var ErrNoSession = errors.New("no mailbox is open")

// ErrNoPassword is returned by Open when no password was given and none is
// stored for the address.
var ErrNoPassword = errors.New("no password known for mailbox")

// ErrNoDomain is returned by Register when the API offers no public domain.
var ErrNoDomain = errors.New("no active public domain available")

// Service manages one open mailbox at a time.
type Service struct {
	store   store.Store
	secrets credential.Store
	logger  *slog.Logger
	opts    []mailtm.Option

	client  *mailtm.Client
	mailbox *model.Mailbox
}

// New creates a service. The options are passed to every mail.tm client it
// creates.
func New(
	st store.Store,
	secrets credential.Store,
	logger *slog.Logger,
	opts ...mailtm.Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		secrets: secrets,
		logger:  logger,
		opts:    append([]mailtm.Option{mailtm.WithLogger(logger)}, opts...),
	}
}

// Mailbox returns the open mailbox, or nil.
func (s *Service) Mailbox() *model.Mailbox {
	return s.mailbox
}

// Client returns the session client of the open mailbox, or nil.
func (s *Service) Client() *mailtm.Client {
	return s.client
}

// Domains lists the first page of domains.
func (s *Service) Domains(ctx context.Context) ([]mailtm.Domain, error) {
	return mailtm.Domains(ctx, 1, s.opts...)
}

// Mailboxes lists every mailbox recorded locally.
func (s *Service) Mailboxes(ctx context.Context) ([]model.Mailbox, error) {
	return s.store.GetMailboxes(ctx)
}

// Register creates a fresh account with a random address and password on
// domain, or on the first active public domain when domain is empty. The
// password is kept in the credential store and the new mailbox is opened.
func (s *Service) Register(ctx context.Context, domain string) (*model.Mailbox, error) {
	if domain == "" {
		picked, err := s.pickDomain(ctx)
		if err != nil {
			return nil, err
		}
		domain = picked
	}

	address := mailtm.RandomAddress(domain)
	password := mailtm.RandomPassword()

	acct, err := mailtm.CreateAccount(ctx, address, password, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("registering mailbox: %w", err)
	}
	s.logger.Info("mailbox created", "address", acct.Address)

	if err := s.secrets.Set(credential.PasswordKey(acct.Address), password); err != nil {
		return nil, fmt.Errorf("storing password: %w", err)
	}

	return s.Open(ctx, acct.Address, password)
}

func (s *Service) pickDomain(ctx context.Context) (string, error) {
	domains, err := s.Domains(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range domains {
		if d.IsActive && !d.IsPrivate {
			return d.Domain, nil
		}
	}
	return "", ErrNoDomain
}

// Open logs into address. With an empty password it first tries the stored
// token, then the stored password. On success the token is stored and the
// mailbox is recorded locally.
func (s *Service) Open(ctx context.Context, address, password string) (*model.Mailbox, error) {
	address = strings.TrimSpace(address)

	client, err := s.login(ctx, address, password)
	if err != nil {
		return nil, err
	}

	acct := client.Account()
	if err := s.secrets.Set(credential.TokenKey(acct.Address), client.SessionToken()); err != nil {
		s.logger.Warn("could not store token", "address", acct.Address, "error", err)
	}
	if password != "" {
		if err := s.secrets.Set(credential.PasswordKey(acct.Address), password); err != nil {
			s.logger.Warn("could not store password", "address", acct.Address, "error", err)
		}
	}

	mb := model.Mailbox{
		ID:        acct.ID,
		Address:   acct.Address,
		CreatedAt: acct.CreatedAt,
	}
	if err := s.store.UpsertMailbox(ctx, mb); err != nil {
		return nil, err
	}
	if err := s.store.TouchLogin(ctx, mb.ID); err != nil {
		return nil, err
	}

	stored, err := s.store.GetMailboxByAddress(ctx, acct.Address)
	if err != nil {
		return nil, err
	}

	s.client = client
	s.mailbox = stored
	s.logger.Debug("mailbox opened", "address", stored.Address)
	return stored, nil
}

func (s *Service) login(ctx context.Context, address, password string) (*mailtm.Client, error) {
	if password != "" {
		return mailtm.Login(ctx, mailtm.Credentials{Address: address, Password: password}, s.opts...)
	}

	if token, err := s.secrets.Get(credential.TokenKey(address)); err == nil {
		client, err := mailtm.Login(ctx, mailtm.Credentials{Token: token}, s.opts...)
		if err == nil {
			return client, nil
		}
		if !mailtm.IsAuthError(err) {
			return nil, err
		}
		s.logger.Debug("stored token rejected, falling back to password", "address", address)
	}

	stored, err := s.secrets.Get(credential.PasswordKey(address))
	if errors.Is(err, credential.ErrNotFound) {
		return nil, fmt.Errorf("opening %s: %w", address, ErrNoPassword)
	}
	if err != nil {
		return nil, err
	}
	return mailtm.Login(ctx, mailtm.Credentials{Address: address, Password: stored}, s.opts...)
}

func (s *Service) session() (*mailtm.Client, *model.Mailbox, error) {
	if s.client == nil || s.mailbox == nil {
		return nil, nil, ErrNoSession
	}
	return s.client, s.mailbox, nil
}

// Sync archives every message currently on the server and returns how many
// were not archived before.
func (s *Service) Sync(ctx context.Context) (int, error) {
	client, mb, err := s.session()
	if err != nil {
		return 0, err
	}

	msgs, err := client.AllMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncing %s: %w", mb.Address, err)
	}

	archived := make([]model.ArchivedMessage, 0, len(msgs))
	for _, m := range msgs {
		archived = append(archived, toArchived(mb.ID, m))
	}

	added, err := s.store.UpsertMessages(ctx, archived)
	if err != nil {
		return 0, err
	}
	s.logger.Info("mailbox synced", "address", mb.Address, "messages", len(msgs), "new", added)
	return added, nil
}

// toArchived maps an API summary onto the local record. The archive is
// keyed by the open mailbox rather than the accountId IRI of the message.
func toArchived(accountID string, m mailtm.Message) model.ArchivedMessage {
	am := model.ArchivedMessage{
		ID:             m.ID,
		AccountID:      accountID,
		MsgID:          m.MsgID,
		Subject:        m.Subject,
		Intro:          m.Intro,
		Seen:           m.Seen,
		HasAttachments: m.HasAttachments,
		Size:           m.Size,
		CreatedAt:      m.CreatedAt,
	}
	if m.From != nil {
		am.FromAddress = m.From.Address
		am.FromName = m.From.Name
	}
	return am
}

// Inbox returns archived messages of the open mailbox.
func (s *Service) Inbox(ctx context.Context, filter store.MessageFilter) ([]model.ArchivedMessage, error) {
	_, mb, err := s.session()
	if err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, mb.ID, filter)
}

// Read fetches a message and marks it read on the server and locally.
func (s *Service) Read(ctx context.Context, id string) (*mailtm.MessageDetail, error) {
	client, _, err := s.session()
	if err != nil {
		return nil, err
	}

	msg, err := client.Message(ctx, id)
	if err != nil {
		return nil, err
	}
	if !msg.Seen {
		if _, err := client.MarkMessageRead(ctx, id); err != nil {
			return nil, err
		}
		msg.Seen = true
	}

	if err := s.store.MarkMessageSeen(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return msg, nil
}

// Source fetches and parses the raw source of a message.
func (s *Service) Source(ctx context.Context, id string) (*mailtm.ParsedSource, error) {
	client, _, err := s.session()
	if err != nil {
		return nil, err
	}
	src, err := client.MessageSource(ctx, id)
	if err != nil {
		return nil, err
	}
	return src.Parse()
}

// Attachments lists the attachments of a message.
func (s *Service) Attachments(ctx context.Context, id string) ([]mailtm.Attachment, error) {
	client, _, err := s.session()
	if err != nil {
		return nil, err
	}
	return client.MessageAttachments(ctx, id)
}

// Download writes the content behind a download URL to w.
func (s *Service) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	client, _, err := s.session()
	if err != nil {
		return 0, err
	}
	return client.Download(ctx, downloadURL, w)
}

// Delete removes a message on the server and from the archive.
func (s *Service) Delete(ctx context.Context, id string) error {
	client, _, err := s.session()
	if err != nil {
		return err
	}
	if err := client.DeleteMessage(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteMessage(ctx, id)
}

// Remove deletes the open account on the server, forgets it locally along
// with its archive and secrets, and closes the session.
func (s *Service) Remove(ctx context.Context) error {
	client, mb, err := s.session()
	if err != nil {
		return err
	}

	if err := client.DeleteAccount(ctx, mb.ID); err != nil {
		return err
	}
	s.logger.Info("mailbox deleted", "address", mb.Address)

	if err := s.store.DeleteMailbox(ctx, mb.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	for _, key := range []string{credential.PasswordKey(mb.Address), credential.TokenKey(mb.Address)} {
		if err := s.secrets.Delete(key); err != nil {
			s.logger.Warn("could not delete credential", "key", key, "error", err)
		}
	}

	s.client = nil
	s.mailbox = nil
	return nil
}
