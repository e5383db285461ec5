package gotd

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/gotd/td/session"
)

const authKeySize = 256

// EncodeTelethon renders session data in the Telethon StringSession format:
// version "1" followed by urlsafe base64 of dc id, ip, port and auth key.
func EncodeTelethon(data *session.Data) (string, error) {
	if data == nil {
		return "", fmt.Errorf("empty session")
	}
	if len(data.AuthKey) != authKeySize {
		return "", fmt.Errorf("auth key has %d bytes, want %d", len(data.AuthKey), authKeySize)
	}

	host, portStr, err := net.SplitHostPort(data.Addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", data.Addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid ip %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	ipBytes := ip.To4()
	if ipBytes == nil {
		ipBytes = ip.To16()
	}

	buf := make([]byte, 0, 1+len(ipBytes)+2+authKeySize)
	buf = append(buf, byte(data.DC))
	buf = append(buf, ipBytes...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(port))
	buf = append(buf, data.AuthKey...)

	return "1" + base64.URLEncoding.EncodeToString(buf), nil
}
