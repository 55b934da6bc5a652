package domain

// Block is the root of a write unit. A block row is never stored without
// the full set of transactions, receipts and logs that belong to it.
type Block struct {
	ChainID       uint64
	Number        uint64
	Hash          string
	ParentHash    string
	Timestamp     uint64
	Miner         string
	GasUsed       uint64
	GasLimit      uint64
	BaseFeePerGas string
	Size          uint64
	ExtraData     string
	TxCount       uint64
}
