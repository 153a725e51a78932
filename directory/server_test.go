package directory

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/negyio/negy/internal/dirapi"
	"github.com/negyio/negy/internal/wire"
)

func mustMarshalAdd(t *testing.T, port uint16, pubPEM []byte, version string) io.Reader {
	t.Helper()
	body, err := json.Marshal(dirapi.AddRequest{
		Port:      port,
		PublicKey: base64.StdEncoding.EncodeToString(pubPEM),
		Version:   version,
	})
	if err != nil {
		t.Fatalf("marshal AddRequest: %v", err)
	}
	return bytes.NewReader(body)
}

func portToUint16(t *testing.T, port string) uint16 {
	t.Helper()
	n, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("parse port %q: %v", port, err)
	}
	return uint16(n)
}

// startFakeRelay listens on localhost and answers exactly one context probe
// with pubPEM and version, then closes. Returns the listener's address.
func startFakeRelay(t *testing.T, pubPEM []byte, version string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tagBuf := make([]byte, 1)
		if _, err := conn.Read(tagBuf); err != nil {
			return
		}
		if wire.Tag(tagBuf[0]) != wire.TagContext {
			return
		}
		reply := append(append([]byte{}, pubPEM...), 0x00)
		reply = append(reply, []byte(version)...)
		_, _ = conn.Write(reply)
	}()

	return ln.Addr().String()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nodes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer(store, nil)
}

func TestHandleAddAcceptsVerifiedRelay(t *testing.T) {
	pubPEM := []byte("-----BEGIN RSA PUBLIC KEY-----\nZmFrZQ==\n-----END RSA PUBLIC KEY-----\n")
	addr := startFakeRelay(t, pubPEM, "1.4.0")
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}

	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := mustMarshalAdd(t, portToUint16(t, port), pubPEM, "1.4.0")
	resp, err := http.Post(srv.URL+"/add", "application/json", body)
	if err != nil {
		t.Fatalf("POST /add: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	entries := s.store.List()
	if len(entries) != 1 {
		t.Fatalf("store has %d entries, want 1", len(entries))
	}
}

func TestHandleAddRejectsUnreachableRelay(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	pubPEM := []byte("-----BEGIN RSA PUBLIC KEY-----\nZmFrZQ==\n-----END RSA PUBLIC KEY-----\n")
	body := mustMarshalAdd(t, 1, pubPEM, "1.0.0")
	resp, err := http.Post(srv.URL+"/add", "application/json", body)
	if err != nil {
		t.Fatalf("POST /add: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleListAndPing(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.Upsert(Entry{Addr: "1.2.3.4:9001", PublicKey: []byte("k"), Version: "1.0.0"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/list")
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	defer resp.Body.Close()

	var out dirapi.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Nodes) != 1 || out.Nodes[0].Addr != "1.2.3.4:9001" {
		t.Fatalf("unexpected list response: %+v", out)
	}
}
