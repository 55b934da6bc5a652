package streaming

import "testing"

func TestEncodeRejectsIncompleteMessages(t *testing.T) {
	cases := []Message{
		{ChainID: 1, BlockHash: "0xabc"},
		{Type: MessageTypeBlock, BlockHash: "0xabc"},
		{Type: MessageTypeBlock, ChainID: 1},
	}
	for _, msg := range cases {
		if _, err := Encode(msg); err == nil {
			t.Fatalf("incomplete message accepted: %+v", msg)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := Encode(Message{
		Type:        MessageTypeLog,
		ChainID:     11155111,
		BlockNumber: 104,
		BlockHash:   "0xabc",
		TxHash:      "0x01",
		LogIndex:    3,
		Topics:      []string{"0xddf252ad"},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MessageTypeLog || msg.ChainID != 11155111 || msg.LogIndex != 3 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestDecodeRejectsUnknownPayloads(t *testing.T) {
	if _, err := Decode([]byte(`{"chain_id":1}`)); err == nil {
		t.Fatal("payload without type accepted")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("invalid json accepted")
	}
}
