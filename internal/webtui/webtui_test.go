package webtui

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	srv, err := NewServer(ServerConfig{
		Addr:  "127.0.0.1:0",
		Title: "Checkout preview",
		Command: func() (*exec.Cmd, error) {
			return exec.Command("sh", "-c", `printf 'ready\n'; read line; printf 'got:%s\n' "$line"`), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestNewServerValidates(t *testing.T) {
	if _, err := NewServer(ServerConfig{Args: []string{"preview", "1"}}); err == nil {
		t.Fatal("expected missing addr error")
	}
	if _, err := NewServer(ServerConfig{Addr: ":0"}); err == nil {
		t.Fatal("expected missing command error")
	}
}

func TestTerminalPage(t *testing.T) {
	ts := newTestServer(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusFound || res.Header.Get("Location") != "/terminal" {
		t.Fatalf("expected redirect to /terminal; got %d %q", res.StatusCode, res.Header.Get("Location"))
	}

	res, err = http.Get(ts.URL + "/terminal")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), "<title>Checkout preview</title>") {
		t.Fatalf("unexpected page:\n%s", body)
	}

	res, err = http.Get(ts.URL + "/static/app.js")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/javascript") {
		t.Fatalf("content type: %q", ct)
	}
}

func TestSessionRelaysKeystrokes(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var out strings.Builder
	waitFor := func(want string) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for !strings.Contains(out.String(), want) {
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("waiting for %q: %v (output so far %q)", want, err, out.String())
			}
			out.Write(data)
		}
	}

	waitFor("ready")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"resize","cols":100,"rows":30}`)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello\r")); err != nil {
		t.Fatal(err)
	}
	waitFor("got:hello")
}

func TestSameOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:7681", true},
		{"https://127.0.0.1:7681", true},
		{"http://127.0.0.1:7681.evil.example", false},
		{"http://evil.example/http://127.0.0.1:7681", false},
		{"http://127.0.0.1:9999", false},
		{"://", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:7681/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := sameOrigin(r); got != tc.want {
			t.Errorf("sameOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}
