package oob

import (
	"errors"
	"io"
	"log"
	"net"
	"time"
)

// Negotiate offers GMCP to a telnet client and waits up to timeout for the
// answer. Bytes read that were not part of the answer are returned in rest
// so the caller can feed them back into its line reader.
func Negotiate(conn net.Conn, timeout time.Duration) (gmcp bool, rest []byte) {
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte{IAC, WILL, TeloptGMCP}); err != nil {
		conn.SetWriteDeadline(time.Time{})
		return false, nil
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == IAC && i+2 < n && buf[i+2] == TeloptGMCP && (buf[i+1] == DO || buf[i+1] == DONT) {
				if buf[i+1] == DO {
					gmcp = true
					log.Printf("oob: client supports GMCP")
				} else {
					log.Printf("oob: client declined GMCP")
				}
				rest = append(rest, buf[i+3:n]...)
				return gmcp, rest
			}
		}
		rest = append(rest, buf[:n]...)
		if err != nil {
			var ne net.Error
			if !(errors.As(err, &ne) && ne.Timeout()) && err != io.EOF {
				log.Printf("oob negotiate read error: %v", err)
			}
			return false, rest
		}
	}
}
