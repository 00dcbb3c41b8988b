package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fincal/internal/core"
)

// LedgerRefreshMessage asks a worker to regenerate one user's ledger.
// It carries only the user id; the worker loads definitions from the store.
type LedgerRefreshMessage struct {
	UserID      string    `json:"userId"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

func NewLedgerRefreshMessage(userID, reason string) *LedgerRefreshMessage {
	return &LedgerRefreshMessage{
		UserID:      userID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
}

func (m *LedgerRefreshMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerRefreshMessageFromJSON decodes a message body. Bodies without a
// user id are rejected.
func LedgerRefreshMessageFromJSON(data []byte) (*LedgerRefreshMessage, error) {
	var msg LedgerRefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode refresh message: %w", core.ErrValidation, err)
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return nil, fmt.Errorf("%w: refresh message without user id", core.ErrValidation)
	}
	return &msg, nil
}
