package gateway

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/negyio/negy/internal/cryptutil"
	"github.com/negyio/negy/internal/negyerr"
	"github.com/negyio/negy/internal/wire"
)

// maxRequestHeaderBytes bounds how much of the client's opening request the
// gateway will buffer before giving up on finding a complete CONNECT line.
const maxRequestHeaderBytes = 4096

// GatewayHandshake holds a selected relay chain and is ready to perform the
// client's CONNECT handshake and the nested relay handshake.
type GatewayHandshake struct {
	chain  []relayHop
	logger *slog.Logger
}

// Handshake reads the client's HTTP request, requires CONNECT, builds and
// sends the nested handshake packet to the first relay, and acknowledges
// the client once the relay chain confirms readiness.
func (h *GatewayHandshake) Handshake(client net.Conn) (*GatewayTunnel, error) {
	reader := bufio.NewReaderSize(io.LimitReader(client, maxRequestHeaderBytes), maxRequestHeaderBytes)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return nil, negyerr.Protocol("gateway.Handshake", fmt.Errorf("read client request: %w", err))
	}
	if req.Method != http.MethodConnect {
		return nil, negyerr.Protocol("gateway.Handshake", negyerr.ErrNonConnect)
	}

	finalDestination := req.Host
	if finalDestination == "" {
		finalDestination = req.URL.Host
	}
	host, port, err := net.SplitHostPort(finalDestination)
	if err != nil {
		return nil, negyerr.Protocol("gateway.Handshake", fmt.Errorf("request target %q: %w", finalDestination, err))
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return nil, negyerr.IO("gateway.Handshake", fmt.Errorf("resolve %s: %w", host, err))
	}
	finalDestination = net.JoinHostPort(addrs[0], port)

	packet, err := buildHandshakePacket(h.chain, finalDestination)
	if err != nil {
		return nil, err
	}

	firstHop := h.chain[0]
	relayConn, err := net.Dial("tcp", firstHop.Addr)
	if err != nil {
		return nil, negyerr.IO("gateway.Handshake", fmt.Errorf("dial first relay %s: %w", firstHop.Addr, err))
	}

	if _, err := relayConn.Write(packet); err != nil {
		relayConn.Close()
		return nil, negyerr.IO("gateway.Handshake", fmt.Errorf("write handshake packet: %w", err))
	}

	replyBuf := make([]byte, 3)
	n, err := relayConn.Read(replyBuf)
	if err != nil {
		relayConn.Close()
		return nil, negyerr.IO("gateway.Handshake", fmt.Errorf("read relay reply: %w", err))
	}
	if err := wire.CheckOKReply(replyBuf[:n]); err != nil {
		relayConn.Close()
		return nil, err
	}

	if _, err := client.Write([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		relayConn.Close()
		return nil, negyerr.IO("gateway.Handshake", fmt.Errorf("ack client: %w", err))
	}

	return &GatewayTunnel{chain: h.chain, client: client, firstRelay: relayConn}, nil
}

// buildHandshakePacket nests one handshake layer per hop, innermost (last
// relay in the chain, closest to the destination) first, so the first
// relay in the chain is the outermost layer and therefore reads off the
// front of the wire.
func buildHandshakePacket(chain []relayHop, finalDestination string) ([]byte, error) {
	var packet []byte
	nextHopAddr := finalDestination

	for i := len(chain) - 1; i >= 0; i-- {
		hop := chain[i]

		delimCT, err := cryptutil.WrapRSA(hop.PubKey, hop.Delimiter[:])
		if err != nil {
			return nil, negyerr.Crypto("gateway.buildHandshakePacket", err)
		}
		destCT, err := cryptutil.WrapRSA(hop.PubKey, []byte(nextHopAddr))
		if err != nil {
			return nil, negyerr.Crypto("gateway.buildHandshakePacket", err)
		}
		keyIVCT, err := cryptutil.WrapRSA(hop.PubKey, hop.SessionKey.Bytes())
		if err != nil {
			return nil, negyerr.Crypto("gateway.buildHandshakePacket", err)
		}

		layer := make([]byte, 0, 1+len(delimCT)+len(destCT)+len(keyIVCT)+len(packet))
		layer = append(layer, byte(wire.TagTunnel))
		layer = append(layer, delimCT...)
		layer = append(layer, destCT...)
		layer = append(layer, keyIVCT...)
		layer = append(layer, packet...)

		packet = layer
		nextHopAddr = hop.Addr
	}

	return packet, nil
}
