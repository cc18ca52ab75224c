package notify

// Hub groups the three notification categories.
type Hub struct {
	Keyboard   Broadcaster[KeyboardNotification]
	Parameters Broadcaster[Notification]
	Engine     Broadcaster[Notification]
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish routes n to its category and returns the number of deliveries.
func (h *Hub) Publish(n Notification) int {
	switch v := n.(type) {
	case KeyboardNotification:
		return h.Keyboard.Publish(v)
	case ParameterChangeNotification, PropertyChangeNotification:
		return h.Parameters.Publish(n)
	default:
		return h.Engine.Publish(n)
	}
}

// Dropped returns the total number of skipped deliveries across categories.
func (h *Hub) Dropped() uint64 {
	return h.Keyboard.Dropped() + h.Parameters.Dropped() + h.Engine.Dropped()
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.Keyboard.Close()
	h.Parameters.Close()
	h.Engine.Close()
}
