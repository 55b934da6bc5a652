package domain

// Receipt is the execution result of a transaction, one-to-one by hash.
// ContractAddress is empty unless the transaction created a contract.
type Receipt struct {
	ChainID           uint64
	TxHash            string
	BlockNumber       uint64
	BlockHash         string
	TxIndex           uint64
	Status            uint64
	GasUsed           uint64
	CumulativeGasUsed uint64
	EffectiveGasPrice string
	ContractAddress   string
	LogsBloom         string
}
