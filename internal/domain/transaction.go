package domain

// Transaction is a chain transaction owned by its containing block.
// To is empty for contract creations.
type Transaction struct {
	ChainID              uint64
	Hash                 string
	BlockNumber          uint64
	BlockHash            string
	TxIndex              uint64
	From                 string
	To                   string
	Value                string
	Nonce                uint64
	Gas                  uint64
	GasPrice             string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	Input                string
	TxType               uint64
}
