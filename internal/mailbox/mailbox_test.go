package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtm-go/internal/credential"
	"github.com/nhle/mailtm-go/internal/store"
	"github.com/nhle/mailtm-go/internal/store/storetest"
	"github.com/nhle/mailtm-go/mailtm"
)

// fakeServer keeps just enough mail.tm state for the service tests.
type fakeServer struct {
	mu        sync.Mutex
	accounts  map[string]string // address -> password
	ids       map[string]string // address -> account id
	tokens    map[string]string // token -> address
	messages  map[string]map[string]any
	order     []string
	patched   []string
	deleted   []string
	tokenHits int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()

	f := &fakeServer{
		accounts: map[string]string{},
		ids:      map[string]string{},
		tokens:   map[string]string{},
		messages: map[string]map[string]any{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /domains", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"hydra:member": []map[string]any{
				{"id": "d0", "domain": "private.test", "isActive": true, "isPrivate": true},
				{"id": "d1", "domain": "mail.test", "isActive": true, "isPrivate": false},
			},
			"hydra:totalItems": 2,
		})
	})
	mux.HandleFunc("POST /accounts", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Address, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.accounts[body.Address]; ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeJSON(w, map[string]any{"hydra:description": "address: This value is already used."})
			return
		}
		f.accounts[body.Address] = body.Password
		f.ids[body.Address] = fmt.Sprintf("acc-%d", len(f.ids)+1)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, f.accountJSON(body.Address))
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Address, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokenHits++
		if pw, ok := f.accounts[body.Address]; !ok || pw != body.Password {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]any{"code": 401, "message": "Invalid credentials."})
			return
		}
		token := fmt.Sprintf("tok-%d", f.tokenHits)
		f.tokens[token] = body.Address
		writeJSON(w, map[string]any{"id": f.ids[body.Address], "token": token})
	})
	mux.HandleFunc("GET /me", f.authed(func(w http.ResponseWriter, r *http.Request, address string) {
		writeJSON(w, f.accountJSON(address))
	}))
	mux.HandleFunc("DELETE /accounts/{id}", f.authed(func(w http.ResponseWriter, r *http.Request, address string) {
		delete(f.accounts, address)
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET /messages", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		var members []map[string]any
		for _, id := range f.order {
			if m, ok := f.messages[id]; ok {
				members = append(members, m)
			}
		}
		if r.URL.Query().Get("page") != "1" {
			members = nil
		}
		writeJSON(w, map[string]any{"hydra:member": members, "hydra:totalItems": len(f.messages)})
	}))
	mux.HandleFunc("GET /messages/{id}", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		m, ok := f.messages[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, m)
	}))
	mux.HandleFunc("PATCH /messages/{id}", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		id := r.PathValue("id")
		f.patched = append(f.patched, id)
		f.messages[id]["seen"] = true
		writeJSON(w, f.messages[id])
	}))
	mux.HandleFunc("DELETE /messages/{id}", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		id := r.PathValue("id")
		f.deleted = append(f.deleted, id)
		delete(f.messages, id)
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET /sources/{id}", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, map[string]any{
			"id":   r.PathValue("id"),
			"data": "From: Bob <bob@sender.test>\r\nSubject: Hello\r\n\r\nbody text\r\n",
		})
	}))
	mux.HandleFunc("GET /messages/{id}/attachments", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, []map[string]any{{"id": "ATT1", "filename": "a.txt", "downloadUrl": "/messages/" + r.PathValue("id") + "/attachment/ATT1"}})
	}))
	mux.HandleFunc("GET /messages/{id}/attachment/{att}", f.authed(func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = io.WriteString(w, "file-content")
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) accountJSON(address string) map[string]any {
	return map[string]any{
		"@id":       "/accounts/" + f.ids[address],
		"id":        f.ids[address],
		"address":   address,
		"quota":     40000000,
		"createdAt": "2024-05-01T10:00:00+00:00",
		"updatedAt": "2024-05-01T10:00:00+00:00",
	}
}

func (f *fakeServer) authed(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		address, ok := f.tokens[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]any{"code": 401, "message": "Invalid JWT Token"})
			return
		}
		h(w, r, address)
	}
}

func (f *fakeServer) addMessage(id, subject string, seen bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, id)
	f.messages[id] = map[string]any{
		"id":        id,
		"subject":   subject,
		"intro":     "intro of " + subject,
		"seen":      seen,
		"from":      map[string]any{"name": "Bob", "address": "bob@sender.test"},
		"to":        []map[string]any{{"address": "me@mail.test"}},
		"createdAt": "2024-05-02T08:30:00+00:00",
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/ld+json")
	_ = json.NewEncoder(w).Encode(v)
}

func newService(t *testing.T, srv *httptest.Server) (*Service, store.Store, *credential.Memory) {
	t.Helper()
	st := storetest.NewTestStore(t)
	secrets := credential.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, secrets, logger, mailtm.WithBaseURL(srv.URL)), st, secrets
}

func TestRegister_PicksPublicDomain(t *testing.T) {
	t.Parallel()

	_, srv := newFakeServer(t)
	svc, st, secrets := newService(t, srv)
	ctx := context.Background()

	mb, err := svc.Register(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "mail.test", mb.Domain)
	assert.Contains(t, mb.Address, "@mail.test")
	assert.NotNil(t, mb.LastLoginAt)
	assert.Same(t, mb, svc.Mailbox())
	require.NotNil(t, svc.Client())

	pw, err := secrets.Get(credential.PasswordKey(mb.Address))
	require.NoError(t, err)
	assert.Len(t, pw, 32)

	token, err := secrets.Get(credential.TokenKey(mb.Address))
	require.NoError(t, err)
	assert.Equal(t, svc.Client().SessionToken(), token)

	all, err := st.GetMailboxes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOpen_UsesStoredToken(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t)
	svc, _, _ := newService(t, srv)
	ctx := context.Background()

	mb, err := svc.Register(ctx, "mail.test")
	require.NoError(t, err)
	hits := f.tokenHits

	// A second service sharing the same secrets reopens without a password.
	svc2 := New(svc.store, svc.secrets, svc.logger, mailtm.WithBaseURL(srv.URL))
	reopened, err := svc2.Open(ctx, mb.Address, "")
	require.NoError(t, err)
	assert.Equal(t, mb.ID, reopened.ID)
	assert.Equal(t, hits, f.tokenHits, "stored token avoids a new /token call")
}

func TestOpen_FallsBackToStoredPassword(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t)
	svc, _, secrets := newService(t, srv)
	ctx := context.Background()

	mb, err := svc.Register(ctx, "mail.test")
	require.NoError(t, err)
	require.NoError(t, secrets.Set(credential.TokenKey(mb.Address), "revoked"))
	hits := f.tokenHits

	_, err = svc.Open(ctx, mb.Address, "")
	require.NoError(t, err)
	assert.Equal(t, hits+1, f.tokenHits)

	token, err := secrets.Get(credential.TokenKey(mb.Address))
	require.NoError(t, err)
	assert.NotEqual(t, "revoked", token)
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t)
	svc, _, _ := newService(t, srv)
	ctx := context.Background()

	_, err := svc.Open(ctx, "unknown@mail.test", "")
	assert.ErrorIs(t, err, ErrNoPassword)

	f.accounts["bob@mail.test"] = "right"
	f.ids["bob@mail.test"] = "acc-bob"
	_, err = svc.Open(ctx, "bob@mail.test", "wrong")
	assert.True(t, mailtm.IsAuthError(err))
	assert.Nil(t, svc.Mailbox())

	mb, err := svc.Open(ctx, " bob@mail.test ", "right")
	require.NoError(t, err)
	assert.Equal(t, "acc-bob", mb.ID)
}

func TestSession_Required(t *testing.T) {
	t.Parallel()

	_, srv := newFakeServer(t)
	svc, _, _ := newService(t, srv)
	ctx := context.Background()

	_, err := svc.Sync(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = svc.Inbox(ctx, store.MessageFilter{})
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = svc.Read(ctx, "m1")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, svc.Delete(ctx, "m1"), ErrNoSession)
	assert.ErrorIs(t, svc.Remove(ctx), ErrNoSession)
}

func TestSyncReadDelete(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t)
	svc, _, _ := newService(t, srv)
	ctx := context.Background()

	_, err := svc.Register(ctx, "mail.test")
	require.NoError(t, err)

	f.addMessage("m1", "Welcome", false)
	f.addMessage("m2", "Receipt", true)

	added, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)

	unseen, err := svc.Inbox(ctx, store.MessageFilter{UnseenOnly: true})
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "m1", unseen[0].ID)
	assert.Equal(t, "bob@sender.test", unseen[0].FromAddress)

	msg, err := svc.Read(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, msg.Seen)
	assert.Equal(t, []string{"m1"}, f.patched)

	_, err = svc.Read(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, f.patched, "already seen messages are not patched")

	unseen, err = svc.Inbox(ctx, store.MessageFilter{UnseenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unseen)

	require.NoError(t, svc.Delete(ctx, "m2"))
	assert.Equal(t, []string{"m2"}, f.deleted)

	all, err := svc.Inbox(ctx, store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "m1", all[0].ID)
}

func TestSourceAttachmentsDownload(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t)
	svc, _, _ := newService(t, srv)
	ctx := context.Background()

	_, err := svc.Register(ctx, "mail.test")
	require.NoError(t, err)
	f.addMessage("m1", "Hello", false)

	parsed, err := svc.Source(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", parsed.Subject)
	assert.Equal(t, "bob@sender.test", parsed.From[0].Address)

	atts, err := svc.Attachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, atts, 1)

	var buf bytes.Buffer
	n, err := svc.Download(ctx, atts[0].DownloadURL, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("file-content")), n)
	assert.Equal(t, "file-content", buf.String())
}

func TestRemove(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t)
	svc, st, secrets := newService(t, srv)
	ctx := context.Background()

	mb, err := svc.Register(ctx, "mail.test")
	require.NoError(t, err)
	f.addMessage("m1", "Hello", false)
	_, err = svc.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx))

	assert.Nil(t, svc.Mailbox())
	assert.NotContains(t, f.accounts, mb.Address)

	_, err = st.GetMailboxByAddress(ctx, mb.Address)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = secrets.Get(credential.PasswordKey(mb.Address))
	assert.ErrorIs(t, err, credential.ErrNotFound)
	_, err = secrets.Get(credential.TokenKey(mb.Address))
	assert.ErrorIs(t, err, credential.ErrNotFound)
}
