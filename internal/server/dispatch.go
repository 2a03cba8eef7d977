package server

// Dispatcher fans room-scoped and participant-scoped events out over the
// message bus. It holds no state of its own; callers pass the session whose
// roster defines the audience, and must hold the registry mutex while doing
// so. Because bus sends only enqueue, events land in every participant's
// queue in the same order the mutations were applied.
type Dispatcher struct {
	bus MessageBus
}

func NewDispatcher(bus MessageBus) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) ToParticipant(connID string, event string, payload interface{}) {
	d.bus.Send(connID, ServerMessage{Type: event, Payload: payload})
}

func (d *Dispatcher) ToRoom(sess *Session, event string, payload interface{}) {
	msg := ServerMessage{Type: event, Payload: payload}
	for connID := range sess.participants {
		d.bus.Send(connID, msg)
	}
}

func (d *Dispatcher) ToRoomExceptSender(sess *Session, senderConnID string, event string, payload interface{}) {
	msg := ServerMessage{Type: event, Payload: payload}
	for connID := range sess.participants {
		if connID == senderConnID {
			continue
		}
		d.bus.Send(connID, msg)
	}
}
