package handlers

// Custom WebSocket close codes. These provide more specific reasons for
// closure than the standard codes.
const (
	// BadSubprotocolError: client connected with an unsupported subprotocol.
	BadSubprotocolError = 3000
)
