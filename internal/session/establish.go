package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/utils"
)

const tokenBytes = 24

// HandleResolver maps a DID to its handle.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, did string) (string, error)
}

// StateWriter records membership in a room.
type StateWriter interface {
	PutStateEvent(roomID, eventType, stateKey string, content map[string]any, sender string) (string, error)
}

// Establisher turns a verified DID into the active session and joins it to the room.
type Establisher struct {
	state    *State
	resolver HandleResolver
	rooms    StateWriter
	roomID   string
	log      *zerolog.Logger
}

// NewEstablisher wires the collaborators used on every successful login.
func NewEstablisher(state *State, resolver HandleResolver, rooms StateWriter, roomID string, logger *zerolog.Logger) *Establisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Establisher{
		state:    state,
		resolver: resolver,
		rooms:    rooms,
		roomID:   roomID,
		log:      logger,
	}
}

// Establish overwrites the active session with a fresh token for did.
// A failed handle lookup falls back to the DID itself.
func (e *Establisher) Establish(ctx context.Context, did string) (Session, error) {
	token, err := utils.NewToken(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}

	handle := did
	if e.resolver != nil {
		resolved, err := e.resolver.ResolveHandle(ctx, did)
		if err != nil {
			e.log.Warn().Err(err).Str("did", did).Msg("handle resolution failed, using did")
		} else {
			handle = resolved
		}
	}

	sess := Session{DID: did, Handle: handle, Token: token}
	e.state.Set(sess)

	if e.rooms != nil {
		content := map[string]any{"membership": "join", "displayname": handle}
		if _, err := e.rooms.PutStateEvent(e.roomID, core.EventTypeMember, did, content, did); err != nil {
			e.log.Warn().Err(err).Str("room_id", e.roomID).Msg("failed to record membership")
		}
	}

	e.log.Info().Str("did", did).Str("handle", handle).Msg("session established")
	sess, _ = e.state.Current()
	return sess, nil
}
