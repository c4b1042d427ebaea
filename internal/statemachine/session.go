package statemachine

// session is a per-client record used to deduplicate exactly-once Tree
// commands, mirroring LogCabin's StateMachine::Session.
type session struct {
	clientID            uint64
	lastModified         uint64 // cluster time
	firstOutstandingRPC  uint64
	responses            map[uint64]Response
}

func newSession(clientID, lastModified uint64) *session {
	return &session{
		clientID:     clientID,
		lastModified: lastModified,
		responses:    make(map[uint64]Response),
	}
}

// expireOutstanding drops response slots for RPCs the client has already
// acknowledged receipt of (rpcNumber < firstOutstanding), matching
// LogCabin's per-apply session bookkeeping.
func (s *session) expireOutstanding(firstOutstanding uint64) {
	if firstOutstanding <= s.firstOutstandingRPC {
		return
	}
	s.firstOutstandingRPC = firstOutstanding
	for rpc := range s.responses {
		if rpc < firstOutstanding {
			delete(s.responses, rpc)
		}
	}
}
