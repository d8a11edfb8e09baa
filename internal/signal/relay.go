// Package signal forwards peer negotiation messages (offers, answers, ICE
// candidates, presence) between room participants. The relay is a pure
// routing layer over the identity index: payloads are opaque to it and
// nothing is queued or retried.
package signal

import (
	"encoding/json"
	"log"

	"liveclass/internal/room"
	"liveclass/pkg/types"
)

// Index is the identity-to-connection view the relay routes over. The
// room manager implements it.
type Index interface {
	SendToIdentity(identity string, msg types.Message) error
	RoomPeers(code, excludeIdentity string) []room.Conn
}

// Relay routes signaling messages point-to-point or room-wide depending
// on kind.
type Relay struct {
	index Index
}

// NewRelay creates a relay over the given identity index.
func NewRelay(index Index) *Relay {
	return &Relay{index: index}
}

// IsSignalingType reports whether a message type belongs to the relay.
func IsSignalingType(msgType string) bool {
	switch msgType {
	case types.MessageTypeReady,
		types.MessageTypeOffer,
		types.MessageTypeAnswer,
		types.MessageTypeICECandidate,
		types.MessageTypeStopped,
		types.MessageTypeSpeakingLevel:
		return true
	default:
		return false
	}
}

// targetEnvelope extracts only the target identity from a signaling
// payload; the rest of the payload passes through untouched.
type targetEnvelope struct {
	Target string `json:"target"`
}

// Route forwards one signaling message from senderIdentity in roomCode.
// Targeted kinds (offer, answer, ice_candidate) go to exactly the target's
// connection; if the target has no live connection the message is dropped
// and logged. Untargeted kinds (ready, stopped, speaking-level) go to every
// other connection in the sender's room.
func (r *Relay) Route(roomCode, senderIdentity string, msg types.Message) {
	switch msg.Type {
	case types.MessageTypeOffer, types.MessageTypeAnswer, types.MessageTypeICECandidate:
		var env targetEnvelope
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				log.Printf("Dropping %s from %s: malformed payload: %v", msg.Type, senderIdentity, err)
				return
			}
		}
		if env.Target == "" {
			log.Printf("Dropping %s from %s: no target identity", msg.Type, senderIdentity)
			return
		}
		if err := r.index.SendToIdentity(env.Target, msg); err != nil {
			log.Printf("Dropping %s from %s: target %s unreachable: %v", msg.Type, senderIdentity, env.Target, err)
		}

	case types.MessageTypeReady, types.MessageTypeStopped, types.MessageTypeSpeakingLevel:
		for _, peer := range r.index.RoomPeers(roomCode, senderIdentity) {
			if err := peer.WriteJSON(msg); err != nil {
				log.Printf("Failed to relay %s in room %s: %v", msg.Type, roomCode, err)
			}
		}

	default:
		log.Printf("Relay ignoring non-signaling message type %q from %s", msg.Type, senderIdentity)
	}
}
