package peerapi

// RequestResponse answers REQUEST_NEW and REQUEST_ROTATE with the key
// identifier the initiator must redeem from its own key source.
type RequestResponse struct {
	Status string `json:"status"`
	KeyID  string `json:"key_ID"`
}

// ConfirmRequest is the body of a CONFIRM message.
type ConfirmRequest struct {
	// Generation identifies the round being committed; it must match the
	// responder's pending round.
	Generation uint64 `json:"generation"`
}

// ConfirmResponse acknowledges a CONFIRM message.
type ConfirmResponse struct {
	Status string `json:"status"`
}
