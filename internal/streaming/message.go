// Package streaming defines the wire envelope for committed chain data.
// Messages are emitted only after the owning write unit has been stored,
// so consumers never observe a block that later disappears.
package streaming

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	MessageTypeBlock       MessageType = "block"
	MessageTypeTransaction MessageType = "transaction"
	MessageTypeReceipt     MessageType = "receipt"
	MessageTypeLog         MessageType = "log"
)

type Message struct {
	Type        MessageType `json:"type"`
	ChainID     uint64      `json:"chain_id"`
	TraceID     string      `json:"trace_id,omitempty"`
	BlockNumber uint64      `json:"block_number"`
	BlockHash   string      `json:"block_hash"`
	Timestamp   uint64      `json:"timestamp,omitempty"`
	TxCount     uint64      `json:"tx_count,omitempty"`

	TxHash   string `json:"tx_hash,omitempty"`
	TxIndex  uint64 `json:"tx_index,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Status   uint64 `json:"status,omitempty"`
	GasUsed  uint64 `json:"gas_used,omitempty"`
	LogIndex uint64 `json:"log_index,omitempty"`
	Address  string `json:"address,omitempty"`
	Topics   []string `json:"topics,omitempty"`
	Data     string `json:"data,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return nil, errors.New("chain_id is required")
	}
	if msg.BlockHash == "" {
		return nil, errors.New("block_hash is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.ChainID == 0 {
		return Message{}, errors.New("chain_id is missing")
	}
	return msg, nil
}
