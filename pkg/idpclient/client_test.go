package idpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateAccount(t *testing.T) {
	var got Account
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != registerPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"created"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/"})
	err := client.CreateAccount(context.Background(), Account{
		Username:  "ARYA1A2B3C",
		FirstName: "Alice",
		LastName:  "Smith",
		EmailID:   "alice@x.com",
		Password:  "Sup3r$ecretPassw0rd",
	})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if got.Username != "ARYA1A2B3C" || got.EmailID != "alice@x.com" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestCreateAccount_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user exists", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).CreateAccount(context.Background(), Account{Username: "x"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusConflict || !strings.Contains(statusErr.Body, "user exists") {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestCreateAccount_ClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"svc-token","token_type":"Bearer","expires_in":300}`))
	})
	var auth string
	mux.HandleFunc(registerPath, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:      srv.URL,
		ClientID:     "user-service",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	})
	if err := client.CreateAccount(context.Background(), Account{Username: "x"}); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if auth != "Bearer svc-token" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
}
