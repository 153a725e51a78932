package node

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestRelay(t *testing.T) (addr string, priv *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Serve(ctx, ln, priv, "1.0.0", testLogger())

	return ln.Addr().String(), priv
}

func TestContextProbeReturnsValidPEMAndVersion(t *testing.T) {
	addr, priv := startTestRelay(t)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x02}); err != nil {
		t.Fatalf("write probe tag: %v", err)
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	idx := bytes.IndexByte(reply, 0x00)
	if idx < 0 {
		t.Fatalf("reply missing NUL separator: %q", reply)
	}
	pemBytes, version := reply[:idx], reply[idx+1:]

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		t.Fatalf("context reply PEM did not decode")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		t.Fatalf("ParsePKCS1PublicKey: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatalf("returned public key does not match relay's key")
	}
	if len(version) == 0 {
		t.Fatalf("expected non-empty version string")
	}
}

func TestUnknownTagClosesConnection(t *testing.T) {
	addr, _ := startTestRelay(t)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0xFF}); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after unknown tag, got %v", err)
	}
}
