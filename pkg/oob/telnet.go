package oob

// Telnet protocol bytes used by GMCP negotiation.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	SE   byte = 240 // Subnegotiation End

	TeloptGMCP byte = 201
)

// Strip removes telnet command sequences and control characters from a
// line of client input. GMCP subnegotiations found in the line are
// returned as their raw payloads ("Package.Name json").
func Strip(s string) (text string, gmcp [][]byte) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != IAC {
			if c >= 32 || c == '\t' {
				out = append(out, c)
			}
			continue
		}
		if i+1 >= len(s) {
			break
		}
		switch s[i+1] {
		case IAC:
			// Escaped 255 is data, but not printable text.
			i++
		case SB:
			end := i + 2
			for end+1 < len(s) && !(s[end] == IAC && s[end+1] == SE) {
				end++
			}
			if end+1 < len(s) && s[i+2] == TeloptGMCP && end > i+3 {
				gmcp = append(gmcp, []byte(s[i+3:end]))
			}
			i = end + 1
		case WILL, WONT, DO, DONT:
			i += 2
		default:
			i++
		}
	}
	return string(out), gmcp
}
