package httpapi

import "openscan/internal/domain"

type blockView struct {
	ChainID       uint64 `json:"chain_id"`
	Number        uint64 `json:"number"`
	Hash          string `json:"hash"`
	ParentHash    string `json:"parent_hash"`
	Timestamp     uint64 `json:"timestamp"`
	Miner         string `json:"miner"`
	GasUsed       uint64 `json:"gas_used"`
	GasLimit      uint64 `json:"gas_limit"`
	BaseFeePerGas string `json:"base_fee_per_gas,omitempty"`
	Size          uint64 `json:"size"`
	TxCount       uint64 `json:"tx_count"`
}

func renderBlock(block domain.Block) blockView {
	return blockView{
		ChainID:       block.ChainID,
		Number:        block.Number,
		Hash:          block.Hash,
		ParentHash:    block.ParentHash,
		Timestamp:     block.Timestamp,
		Miner:         block.Miner,
		GasUsed:       block.GasUsed,
		GasLimit:      block.GasLimit,
		BaseFeePerGas: block.BaseFeePerGas,
		Size:          block.Size,
		TxCount:       block.TxCount,
	}
}

func renderBlocks(blocks []domain.Block) []blockView {
	views := make([]blockView, 0, len(blocks))
	for _, block := range blocks {
		views = append(views, renderBlock(block))
	}
	return views
}

type transactionView struct {
	ChainID     uint64 `json:"chain_id"`
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	TxIndex     uint64 `json:"tx_index"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value"`
	Nonce       uint64 `json:"nonce"`
	Gas         uint64 `json:"gas"`
	GasPrice    string `json:"gas_price"`
	TxType      uint64 `json:"tx_type"`
}

func renderTransactions(txs []domain.Transaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			ChainID:     tx.ChainID,
			Hash:        tx.Hash,
			BlockNumber: tx.BlockNumber,
			BlockHash:   tx.BlockHash,
			TxIndex:     tx.TxIndex,
			From:        tx.From,
			To:          tx.To,
			Value:       tx.Value,
			Nonce:       tx.Nonce,
			Gas:         tx.Gas,
			GasPrice:    tx.GasPrice,
			TxType:      tx.TxType,
		})
	}
	return views
}

type receiptView struct {
	ChainID           uint64 `json:"chain_id"`
	TxHash            string `json:"tx_hash"`
	BlockNumber       uint64 `json:"block_number"`
	BlockHash         string `json:"block_hash"`
	TxIndex           uint64 `json:"tx_index"`
	Status            uint64 `json:"status"`
	GasUsed           uint64 `json:"gas_used"`
	CumulativeGasUsed uint64 `json:"cumulative_gas_used"`
	EffectiveGasPrice string `json:"effective_gas_price"`
	ContractAddress   string `json:"contract_address,omitempty"`
}

func renderReceipt(receipt domain.Receipt) receiptView {
	return receiptView{
		ChainID:           receipt.ChainID,
		TxHash:            receipt.TxHash,
		BlockNumber:       receipt.BlockNumber,
		BlockHash:         receipt.BlockHash,
		TxIndex:           receipt.TxIndex,
		Status:            receipt.Status,
		GasUsed:           receipt.GasUsed,
		CumulativeGasUsed: receipt.CumulativeGasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
		ContractAddress:   receipt.ContractAddress,
	}
}

type logView struct {
	ChainID     uint64   `json:"chain_id"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxIndex     uint64   `json:"tx_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
}

func renderLogs(logs []domain.Log) []logView {
	views := make([]logView, 0, len(logs))
	for _, log := range logs {
		views = append(views, logView{
			ChainID:     log.ChainID,
			TxHash:      log.TxHash,
			LogIndex:    log.LogIndex,
			BlockNumber: log.BlockNumber,
			BlockHash:   log.BlockHash,
			TxIndex:     log.TxIndex,
			Address:     log.Address,
			Topics:      log.Topics,
			Data:        log.Data,
			Removed:     log.Removed,
		})
	}
	return views
}
