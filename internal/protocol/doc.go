// Package protocol implements the eISCP wire protocol: the inner ISCP
// message envelope, the 16-byte binary packet header, and a stream
// handler that reassembles packets from a TCP byte stream and
// translates them into command updates.
//
// The packet layout is a fixed big-endian header
//
//	"ISCP" | header size (4) | data size (4) | version (1) | reserved (3)
//
// followed by the UTF-8 message payload. Inside the payload a message
// is "!1" + command + EOF (0x1a), with receivers appending up to two
// CR/LF bytes after the terminator.
package protocol
