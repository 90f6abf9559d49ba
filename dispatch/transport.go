package dispatch

import "io"

// Transport is the minimal shape the dispatcher needs from the underlying
// byte stream: any net.Conn (a real RFCOMM channel, a TCP socket used in
// tests, or net.Pipe) satisfies this without adapter code.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}
