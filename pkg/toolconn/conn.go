package toolconn

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Tool describes a tool exposed by the backend
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Conn is the surface the rest of the system needs from a live backend
// connection. Shutdown capability is probed separately, see safeClose.
type Conn interface {
	// ListTools returns the tools the backend exposes for this user
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a tool. isError reports an in-band tool failure the
	// model should see; err reports a transport or protocol failure.
	CallTool(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error)
}

// Dialer establishes a connection bound to one user credential
type Dialer interface {
	Dial(ctx context.Context, userID, credential string) (Conn, error)
}

// Shutdown capabilities, probed in fixed priority order.
type Closer interface {
	Close() error
}

type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// safeClose shuts a connection down via the first capability it declares:
// Close, then Disconnect, then Cleanup. A connection with none of the three
// is left alone. Errors are logged and swallowed; a failed teardown must
// never fail the surrounding cache operation.
func safeClose(ctx context.Context, conn Conn, logger zerolog.Logger) {
	switch c := conn.(type) {
	case Closer:
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close tool connection")
			return
		}
		logger.Debug().Msg("Closed tool connection via Close")
	case Disconnecter:
		if err := c.Disconnect(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to disconnect tool connection")
			return
		}
		logger.Debug().Msg("Closed tool connection via Disconnect")
	case Cleaner:
		if err := c.Cleanup(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to clean up tool connection")
			return
		}
		logger.Debug().Msg("Closed tool connection via Cleanup")
	default:
		logger.Debug().Msg("Tool connection declares no shutdown capability")
	}
}
