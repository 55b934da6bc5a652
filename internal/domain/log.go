package domain

// Log is a contract event emitted during a transaction. LogIndex is unique
// within the transaction and ordering by it must be preserved.
type Log struct {
	ChainID     uint64
	TxHash      string
	LogIndex    uint64
	BlockNumber uint64
	BlockHash   string
	TxIndex     uint64
	Address     string
	Topics      []string
	Data        string
	Removed     bool
}
