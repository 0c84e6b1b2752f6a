package gateway

import "errors"

// ErrUnknownCommand rejects websocket commands the gateway does not route.
var ErrUnknownCommand = errors.New("unknown command")
