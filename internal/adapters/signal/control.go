package signal

func (h *Hub) handlePing(c *WsSignalConn) {
	h.sendJSON(c, envelope{Type: "pong"})
}

func (h *Hub) handleWhoAmI(c *WsSignalConn) {
	id := c.id
	h.sendJSON(c, envelope{Type: "whoami", Identity: &id})
}
