package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/donewithit/server/internal/errs"
	"github.com/donewithit/server/internal/model"
)

type fakeAuth struct {
	registerUser *model.User
	registerErr  error

	loginRef  string
	loginUser *model.User
	loginErr  error

	identifyID  uuid.UUID
	identifyErr error

	loggedOut []string

	pushTokenErr  error
	lastPushToken string
}

func (f *fakeAuth) Register(_ context.Context, name, email, password string) (*model.User, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.registerUser, nil
}

func (f *fakeAuth) Login(_ context.Context, email, password, ip string) (string, *model.User, error) {
	if f.loginErr != nil {
		return "", nil, f.loginErr
	}
	return f.loginRef, f.loginUser, nil
}

func (f *fakeAuth) Logout(ref string) { f.loggedOut = append(f.loggedOut, ref) }

func (f *fakeAuth) Identify(ref string) (uuid.UUID, error) {
	if f.identifyErr != nil {
		return uuid.Nil, f.identifyErr
	}
	return f.identifyID, nil
}

func (f *fakeAuth) SetPushToken(_ context.Context, userID uuid.UUID, token string) error {
	if f.pushTokenErr != nil {
		return f.pushTokenErr
	}
	f.lastPushToken = token
	return nil
}

type fakeMsgSvc struct {
	sendMsg *model.Message
	sendErr error

	lastSender    uuid.UUID
	lastRecipient uuid.UUID
	lastBody      string

	conv    []model.Message
	convErr error
}

func (f *fakeMsgSvc) Send(_ context.Context, senderID, recipientID uuid.UUID, body string) (*model.Message, error) {
	f.lastSender, f.lastRecipient, f.lastBody = senderID, recipientID, body
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendMsg, nil
}

func (f *fakeMsgSvc) Conversation(_ context.Context, userID, otherID uuid.UUID, limit int) ([]model.Message, error) {
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.conv, nil
}

func newTestServer(auth *fakeAuth, msgs *fakeMsgSvc) *httptest.Server {
	live := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	s := New(auth, msgs, live, zap.NewNop())
	return httptest.NewServer(s.Routes())
}

func postJSON(t *testing.T, url, bearer string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeAuth{}, &fakeMsgSvc{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Name: "Alice", Email: "alice@example.com"}
	auth := &fakeAuth{registerUser: u}
	ts := newTestServer(auth, &fakeMsgSvc{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/register", "", registerRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password123",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got userResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != u.ID || got.Email != u.Email {
		t.Fatalf("body = %+v", got)
	}

	auth.registerErr = errs.ErrAlreadyExists
	resp2 := postJSON(t, ts.URL+"/api/register", "", registerRequest{Name: "x", Email: "x@x", Password: "password123"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp2.StatusCode)
	}

	auth.registerErr = errs.ErrWeakCredential
	resp3 := postJSON(t, ts.URL+"/api/register", "", registerRequest{Name: "x", Email: "x@x", Password: "short"})
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password status = %d, want 400", resp3.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Name: "Alice", Email: "alice@example.com"}
	auth := &fakeAuth{loginRef: "ref-1", loginUser: u}
	ts := newTestServer(auth, &fakeMsgSvc{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/login", "", loginRequest{Email: u.Email, Password: "password123"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Token != "ref-1" || got.User.ID != u.ID {
		t.Fatalf("body = %+v", got)
	}

	auth.loginErr = errs.ErrUnauthorized
	resp2 := postJSON(t, ts.URL+"/api/login", "", loginRequest{Email: u.Email, Password: "bad"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad creds status = %d, want 401", resp2.StatusCode)
	}

	auth.loginErr = errs.ErrRateLimited
	resp3 := postJSON(t, ts.URL+"/api/login", "", loginRequest{Email: u.Email, Password: "bad"})
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate limited status = %d, want 429", resp3.StatusCode)
	}
}

func TestAuthedRoutes_RequireBearer(t *testing.T) {
	t.Parallel()
	auth := &fakeAuth{identifyErr: errs.ErrSessionNotFound}
	ts := newTestServer(auth, &fakeMsgSvc{})
	defer ts.Close()

	// no header at all
	resp := postJSON(t, ts.URL+"/api/messages", "", sendMessageRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d", resp.StatusCode)
	}

	// header present but session revoked
	resp2 := postJSON(t, ts.URL+"/api/messages", "stale-ref", sendMessageRequest{})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale session status = %d", resp2.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	sender := uuid.Must(uuid.NewV4())
	recipient := uuid.Must(uuid.NewV4())
	msg := &model.Message{
		ID:           uuid.Must(uuid.NewV4()),
		SenderID:     sender,
		RecipientID:  recipient,
		Body:         "hi",
		DeliveryPath: model.DeliveryLive,
		CreatedAt:    time.Now(),
	}
	auth := &fakeAuth{identifyID: sender}
	msgs := &fakeMsgSvc{sendMsg: msg}
	ts := newTestServer(auth, msgs)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/messages", "ref-1", sendMessageRequest{RecipientID: recipient, Body: "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MessageID != msg.ID || got.DeliveryPath != model.DeliveryLive {
		t.Fatalf("body = %+v", got)
	}
	if msgs.lastSender != sender || msgs.lastRecipient != recipient || msgs.lastBody != "hi" {
		t.Fatalf("service saw sender=%v recipient=%v body=%q", msgs.lastSender, msgs.lastRecipient, msgs.lastBody)
	}

	msgs.sendErr = errs.ErrNotFound
	resp2 := postJSON(t, ts.URL+"/api/messages", "ref-1", sendMessageRequest{RecipientID: recipient, Body: "hi"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown recipient status = %d, want 404", resp2.StatusCode)
	}
}

func TestConversation(t *testing.T) {
	t.Parallel()
	me := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())
	auth := &fakeAuth{identifyID: me}
	msgs := &fakeMsgSvc{conv: []model.Message{
		{ID: uuid.Must(uuid.NewV4()), SenderID: other, Body: "hey"},
		{ID: uuid.Must(uuid.NewV4()), SenderID: me, Body: "hi back"},
	}}
	ts := newTestServer(auth, msgs)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/conversations/"+other.String(), nil)
	req.Header.Set("Authorization", "Bearer ref-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []conversationMessage
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Body != "hey" || got[1].Body != "hi back" {
		t.Fatalf("body = %+v", got)
	}

	// malformed peer id
	req2, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/conversations/not-a-uuid", nil)
	req2.Header.Set("Authorization", "Bearer ref-1")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp2.StatusCode)
	}
}

func TestLogoutAndPushToken(t *testing.T) {
	t.Parallel()
	me := uuid.Must(uuid.NewV4())
	auth := &fakeAuth{identifyID: me}
	ts := newTestServer(auth, &fakeMsgSvc{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/logout", "ref-1", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	if len(auth.loggedOut) != 1 || auth.loggedOut[0] != "ref-1" {
		t.Fatalf("loggedOut = %v", auth.loggedOut)
	}

	raw, _ := json.Marshal(pushTokenRequest{Token: "ExponentPushToken[x]"})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/push-token", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer ref-1")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNoContent {
		t.Fatalf("push-token status = %d", resp2.StatusCode)
	}
	if auth.lastPushToken != "ExponentPushToken[x]" {
		t.Fatalf("token = %q", auth.lastPushToken)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{errs.ErrWeakCredential, http.StatusBadRequest},
		{errs.ErrUnauthorized, http.StatusUnauthorized},
		{errs.ErrSessionNotFound, http.StatusUnauthorized},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrAlreadyExists, http.StatusConflict},
		{errs.ErrRateLimited, http.StatusTooManyRequests},
		{errs.ErrPersistence, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
