package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"

	"board-sync/domain"
)

func TestGetBoardNormalizesValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/boards/b1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.Header.Get("Idempotency-Key") != "" {
			t.Errorf("expected no idempotency key on GET")
		}
		_, _ = io.WriteString(w, `{"board":{"id":"b1","name":"B","columns":[{"id":"c1","title":"Owner","type":"person"}],
			"groups":[],"items":[{"id":"i1","name":"x","position":0,"values":{"c1":{"userIds":["u1"]}}}]}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken("tok"))
	b, err := c.GetBoard(context.Background(), "b1")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if v := b.Items[0].Values["c1"]; !v.Equal(domain.PersonValue("u1")) {
		t.Fatalf("expected normalized person value, got %+v", v)
	}
}

func TestCreateItemSendsClientID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/boards/b1/items" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Errorf("expected idempotency key")
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(data, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["clientId"] != "tmp-1" {
			t.Errorf("expected clientId tmp-1, got %v", body["clientId"])
		}
		if v, ok := body["groupId"]; !ok || v != nil {
			t.Errorf("expected null groupId for ungrouped item, got %v", v)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"i9","name":"New","position":3}`)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken("tok"))
	item, err := c.CreateItem(context.Background(), "b1", domain.Item{ID: "tmp-1", ClientID: "tmp-1", Name: "New", Position: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.ID != "i9" || item.ClientID != "tmp-1" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestUpdateItemSendsNullForUngroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if string(data) != `{"groupId":null}` {
			t.Errorf("unexpected body %s", data)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	empty := ""
	c := New(srv.URL, StaticToken("tok"))
	if err := c.UpdateItem(context.Background(), "i1", domain.ItemPatch{GroupID: &empty}); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestUpdateValueSendsCanonicalShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/items/i1/values/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if string(data) != `{"value":"done"}` {
			t.Errorf("unexpected body %s", data)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken("tok"))
	if err := c.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("done")); err != nil {
		t.Fatalf("update value: %v", err)
	}
}

func TestStatusErrorsClassify(t *testing.T) {
	codes := map[int]struct {
		transient bool
		unauth    bool
	}{
		http.StatusInternalServerError: {transient: true},
		http.StatusBadGateway:          {transient: true},
		http.StatusTooManyRequests:     {transient: true},
		http.StatusBadRequest:          {},
		http.StatusUnauthorized:        {unauth: true},
		http.StatusForbidden:           {unauth: true},
	}
	for code, want := range codes {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", code)
		}))
		err := New(srv.URL, StaticToken("tok")).DeleteItem(context.Background(), "i1")
		srv.Close()

		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != code {
			t.Fatalf("%d: expected StatusError, got %v", code, err)
		}
		if IsTransient(err) != want.transient {
			t.Fatalf("%d: expected transient=%v", code, want.transient)
		}
		if errors.Is(err, ErrUnauthorized) != want.unauth {
			t.Fatalf("%d: expected unauthorized=%v", code, want.unauth)
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Fatalf("%d: expected body in error, got %v", code, err)
		}
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(url, StaticToken("tok")).DeleteItem(context.Background(), "i1")
	var ne *NetworkError
	if !errors.As(err, &ne) || !IsTransient(err) {
		t.Fatalf("expected transient network error, got %v", err)
	}
}

func TestListMembersAcceptsWrappedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"members":[{"id":"u1","name":"Ana"}]}`)
	}))
	defer srv.Close()

	ms, err := New(srv.URL, StaticToken("tok")).ListMembers(context.Background(), "w1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(ms) != 1 || ms[0].ID != "u1" {
		t.Fatalf("unexpected members %+v", ms)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("testsecret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestRefreshingTokenSourceRefreshesNearExpiry(t *testing.T) {
	var refreshes atomic.Int32
	fresh := signedToken(t, time.Now().Add(time.Hour))
	src := NewRefreshingTokenSource(signedToken(t, time.Now().Add(10*time.Second)), func(ctx context.Context) (string, error) {
		refreshes.Add(1)
		return fresh, nil
	})

	got, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != fresh || refreshes.Load() != 1 {
		t.Fatalf("expected refresh of a token inside the leeway")
	}
	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("expected cached token to be reused, got %d refreshes", refreshes.Load())
	}
}

func TestRefreshingTokenSourceKeepsOpaqueToken(t *testing.T) {
	src := NewRefreshingTokenSource("opaque", func(ctx context.Context) (string, error) {
		return "", errors.New("should not refresh")
	})
	got, err := src.Token(context.Background())
	if err != nil || got != "opaque" {
		t.Fatalf("expected opaque token, got %q (%v)", got, err)
	}
}
