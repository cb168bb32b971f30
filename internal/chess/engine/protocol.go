package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-EngineHost/internal/chess/option"
)

var ErrUnknownProtocol = errors.New("unknown engine protocol")

// Protocol translates session operations into one wire protocol. All methods run on the session loop.
type Protocol interface {
	// StartHandshake writes the opening negotiation; the adapter calls handshakeDone when it completes.
	StartHandshake()
	// HandshakeTimedOut is called when the protocol-start timer expires. Returning false treats
	// the engine as crashed; returning true means the adapter fell back and finished the handshake.
	HandshakeTimedOut() bool
	BeginGame()
	BeginThinking()
	MakeMove(move string)
	SendStop()
	SendQuit()
	SendPing() bool
	SendOption(o option.Option)
	ParseLine(line string)
	EndGame(result GameResult, wasThinking bool)
	RestartsByDefault() bool
}

var protocols = map[string]func(*Session) Protocol{
	"xboard": func(s *Session) Protocol { return newXboard(s) },
	"uci":    func(s *Session) Protocol { return newUCI(s) },
}

// NewProtocol builds the adapter named by name for s.
func NewProtocol(name string, s *Session) (Protocol, error) {
	factory, ok := protocols[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return factory(s), nil
}
