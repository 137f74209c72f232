package jenkins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testClient() *Client {
	return NewClient(zap.NewNop(), 5*time.Second)
}

var testCreds = Credentials{Username: "ci-bot", APIToken: "token"}

func TestFetchToken(t *testing.T) {
	t.Run("valid token document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/crumbIssuer/api/json" {
				t.Errorf("path = %s", r.URL.Path)
			}
			user, token, ok := r.BasicAuth()
			if !ok || user != "ci-bot" || token != "token" {
				t.Errorf("basic auth = %s/%s/%v", user, token, ok)
			}
			w.Write([]byte(`{"crumb": "abc123", "crumbRequestField": "Jenkins-Crumb"}`))
		}))
		defer srv.Close()

		crumb, err := testClient().FetchToken(context.Background(), srv.URL, testCreds)
		if err != nil {
			t.Fatalf("FetchToken() error = %v", err)
		}
		if crumb.Field != "Jenkins-Crumb" || crumb.Value != "abc123" {
			t.Errorf("crumb = %+v", crumb)
		}
	})

	t.Run("401 raises AuthError with server message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("bad api token"))
		}))
		defer srv.Close()

		_, err := testClient().FetchToken(context.Background(), srv.URL, testCreds)
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("error = %T (%v), want AuthError", err, err)
		}
		if authErr.Error() != "bad api token" {
			t.Errorf("message = %q", authErr.Error())
		}
	})

	t.Run("401 without body falls back to generic message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := testClient().FetchToken(context.Background(), srv.URL, testCreds)
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("error = %T, want AuthError", err)
		}
		if authErr.Error() != "invalid credentials" {
			t.Errorf("message = %q, want generic fallback", authErr.Error())
		}
	})

	t.Run("200 with missing crumb raises ProtocolError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"crumbRequestField": "Jenkins-Crumb"}`))
		}))
		defer srv.Close()

		_, err := testClient().FetchToken(context.Background(), srv.URL, testCreds)
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Errorf("error = %T (%v), want ProtocolError", err, err)
		}
	})

	t.Run("unreachable server raises TransportError", func(t *testing.T) {
		_, err := testClient().FetchToken(context.Background(), "http://127.0.0.1:1", testCreds)
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Errorf("error = %T (%v), want TransportError", err, err)
		}
	})
}

func TestSetReservation(t *testing.T) {
	t.Run("fetches crumb then posts with crumb header", func(t *testing.T) {
		var sawCrumbHeader bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/crumbIssuer/api/json":
				w.Write([]byte(`{"crumb": "abc123", "crumbRequestField": "Jenkins-Crumb"}`))
			case "/lockable-resources/reserve":
				if r.Method != http.MethodPost {
					t.Errorf("method = %s", r.Method)
				}
				if r.URL.Query().Get("resource") != "rig-1" {
					t.Errorf("resource = %s", r.URL.Query().Get("resource"))
				}
				sawCrumbHeader = r.Header.Get("Jenkins-Crumb") == "abc123"
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		err := testClient().SetReservation(context.Background(), srv.URL, testCreds, "rig-1", ActionReserve)
		if err != nil {
			t.Fatalf("SetReservation() error = %v", err)
		}
		if !sawCrumbHeader {
			t.Error("mutation was sent without the crumb header")
		}
	})

	t.Run("invalid action rejected before any call", func(t *testing.T) {
		err := testClient().SetReservation(context.Background(), "http://127.0.0.1:1", testCreds, "rig-1", "steal")
		if err == nil {
			t.Fatal("SetReservation() succeeded with invalid action")
		}
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			t.Error("invalid action reached the transport")
		}
	})

	t.Run("token failure aborts the mutation", func(t *testing.T) {
		var mutated bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/crumbIssuer/api/json" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			mutated = true
		}))
		defer srv.Close()

		err := testClient().SetReservation(context.Background(), srv.URL, testCreds, "rig-1", ActionUnreserve)
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("error = %T, want AuthError", err)
		}
		if mutated {
			t.Error("mutation issued despite token failure")
		}
	})
}

func TestCheckCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, token, _ := r.BasicAuth(); token != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"crumb": "abc123", "crumbRequestField": "Jenkins-Crumb"}`))
	}))
	defer srv.Close()

	if err := testClient().CheckCredentials(context.Background(), srv.URL, testCreds); err != nil {
		t.Errorf("CheckCredentials() with good credentials = %v", err)
	}

	err := testClient().CheckCredentials(context.Background(), srv.URL, Credentials{Username: "ci-bot", APIToken: "wrong"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("error = %T, want AuthError", err)
	}
}

func TestFetchStatus(t *testing.T) {
	doc := `{"lockableResourcesManager": {"resources": {"resource": []}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lockable-resources/api/json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	body, err := testClient().FetchStatus(context.Background(), srv.URL, testCreds)
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}
	if string(body) != doc {
		t.Errorf("body = %s", body)
	}
}
