package application

type BlockQueryFilter struct {
	ChainID   *uint64
	Number    *uint64
	Hash      string
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
}

type TransactionQueryFilter struct {
	ChainID   *uint64
	Address   string
	Direction string // "sent", "received" or "" for both
	TxHash    string
	Status    *uint64
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
}

type LogQueryFilter struct {
	ChainID   *uint64
	Address   string
	TxHash    string
	Topic0    string
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
}
