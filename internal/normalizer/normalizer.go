// Package normalizer converts raw RPC payloads into the canonical entities
// used by storage. It is pure: no I/O, no retries. A failure here means the
// endpoint returned data that violates a structural invariant and is fatal
// for the affected block.
package normalizer

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"openscan/internal/domain"
	"openscan/internal/infrastructure/ethrpc"
)

// Block normalizes a raw block and its embedded transactions. Every
// transaction must reference the block it was fetched under.
func Block(chainID uint64, raw ethrpc.Block) (domain.Block, []domain.Transaction, error) {
	number, err := hexUint(raw.Number, "block number")
	if err != nil {
		return domain.Block{}, nil, err
	}
	timestamp, err := hexUint(raw.Timestamp, "block timestamp")
	if err != nil {
		return domain.Block{}, nil, err
	}
	gasUsed, err := hexUint(raw.GasUsed, "block gasUsed")
	if err != nil {
		return domain.Block{}, nil, err
	}
	gasLimit, err := hexUint(raw.GasLimit, "block gasLimit")
	if err != nil {
		return domain.Block{}, nil, err
	}
	size, err := hexUintOrZero(raw.Size, "block size")
	if err != nil {
		return domain.Block{}, nil, err
	}
	baseFee, err := hexBigOrEmpty(raw.BaseFeePerGas, "block baseFeePerGas")
	if err != nil {
		return domain.Block{}, nil, err
	}

	block := domain.Block{
		ChainID:       chainID,
		Number:        number,
		Hash:          strings.ToLower(raw.Hash),
		ParentHash:    strings.ToLower(raw.ParentHash),
		Timestamp:     timestamp,
		Miner:         strings.ToLower(raw.Miner),
		GasUsed:       gasUsed,
		GasLimit:      gasLimit,
		BaseFeePerGas: baseFee,
		Size:          size,
		ExtraData:     raw.ExtraData,
		TxCount:       uint64(len(raw.Transactions)),
	}

	transactions := make([]domain.Transaction, 0, len(raw.Transactions))
	for _, rawTx := range raw.Transactions {
		tx, err := transaction(chainID, block, rawTx)
		if err != nil {
			return domain.Block{}, nil, err
		}
		transactions = append(transactions, tx)
	}
	return block, transactions, nil
}

func transaction(chainID uint64, block domain.Block, raw ethrpc.Transaction) (domain.Transaction, error) {
	if !strings.EqualFold(raw.BlockHash, block.Hash) {
		return domain.Transaction{}, fmt.Errorf("%w: tx %s references block hash %s, fetched under %s",
			domain.ErrNormalization, raw.Hash, raw.BlockHash, block.Hash)
	}
	blockNumber, err := hexUint(raw.BlockNumber, "tx blockNumber")
	if err != nil {
		return domain.Transaction{}, err
	}
	if blockNumber != block.Number {
		return domain.Transaction{}, fmt.Errorf("%w: tx %s references block %d, fetched under %d",
			domain.ErrNormalization, raw.Hash, blockNumber, block.Number)
	}

	txIndex, err := hexUint(raw.TransactionIndex, "tx index")
	if err != nil {
		return domain.Transaction{}, err
	}
	nonce, err := hexUint(raw.Nonce, "tx nonce")
	if err != nil {
		return domain.Transaction{}, err
	}
	gas, err := hexUint(raw.Gas, "tx gas")
	if err != nil {
		return domain.Transaction{}, err
	}
	txType, err := hexUintOrZero(raw.Type, "tx type")
	if err != nil {
		return domain.Transaction{}, err
	}
	value, err := hexBig(raw.Value, "tx value")
	if err != nil {
		return domain.Transaction{}, err
	}
	gasPrice, err := hexBigOrEmpty(raw.GasPrice, "tx gasPrice")
	if err != nil {
		return domain.Transaction{}, err
	}
	maxFee, err := hexBigOrEmpty(raw.MaxFeePerGas, "tx maxFeePerGas")
	if err != nil {
		return domain.Transaction{}, err
	}
	maxPriorityFee, err := hexBigOrEmpty(raw.MaxPriorityFeePerGas, "tx maxPriorityFeePerGas")
	if err != nil {
		return domain.Transaction{}, err
	}

	// Contract creations carry no recipient.
	to := ""
	if raw.To != nil {
		to = strings.ToLower(*raw.To)
	}

	return domain.Transaction{
		ChainID:              chainID,
		Hash:                 strings.ToLower(raw.Hash),
		BlockNumber:          block.Number,
		BlockHash:            block.Hash,
		TxIndex:              txIndex,
		From:                 strings.ToLower(raw.From),
		To:                   to,
		Value:                value,
		Nonce:                nonce,
		Gas:                  gas,
		GasPrice:             gasPrice,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriorityFee,
		Input:                raw.Input,
		TxType:               txType,
	}, nil
}

// Receipt normalizes a raw receipt and its logs. The receipt must belong to
// the transaction it was fetched for, and every log must reference it.
// Logs come back ordered by log index.
func Receipt(chainID uint64, txHash string, raw ethrpc.Receipt) (domain.Receipt, []domain.Log, error) {
	if !strings.EqualFold(raw.TransactionHash, txHash) {
		return domain.Receipt{}, nil, fmt.Errorf("%w: receipt for %s returned under tx %s",
			domain.ErrNormalization, raw.TransactionHash, txHash)
	}
	blockNumber, err := hexUint(raw.BlockNumber, "receipt blockNumber")
	if err != nil {
		return domain.Receipt{}, nil, err
	}
	txIndex, err := hexUint(raw.TransactionIndex, "receipt tx index")
	if err != nil {
		return domain.Receipt{}, nil, err
	}
	status, err := hexUintOrZero(raw.Status, "receipt status")
	if err != nil {
		return domain.Receipt{}, nil, err
	}
	gasUsed, err := hexUint(raw.GasUsed, "receipt gasUsed")
	if err != nil {
		return domain.Receipt{}, nil, err
	}
	cumulative, err := hexUint(raw.CumulativeGasUsed, "receipt cumulativeGasUsed")
	if err != nil {
		return domain.Receipt{}, nil, err
	}
	effectiveGasPrice, err := hexBigOrEmpty(raw.EffectiveGasPrice, "receipt effectiveGasPrice")
	if err != nil {
		return domain.Receipt{}, nil, err
	}

	contractAddress := ""
	if raw.ContractAddress != nil {
		contractAddress = strings.ToLower(*raw.ContractAddress)
	}

	receipt := domain.Receipt{
		ChainID:           chainID,
		TxHash:            strings.ToLower(raw.TransactionHash),
		BlockNumber:       blockNumber,
		BlockHash:         strings.ToLower(raw.BlockHash),
		TxIndex:           txIndex,
		Status:            status,
		GasUsed:           gasUsed,
		CumulativeGasUsed: cumulative,
		EffectiveGasPrice: effectiveGasPrice,
		ContractAddress:   contractAddress,
		LogsBloom:         raw.LogsBloom,
	}

	logs := make([]domain.Log, 0, len(raw.Logs))
	for _, rawLog := range raw.Logs {
		if !strings.EqualFold(rawLog.TransactionHash, receipt.TxHash) {
			return domain.Receipt{}, nil, fmt.Errorf("%w: log references tx %s inside receipt %s",
				domain.ErrNormalization, rawLog.TransactionHash, receipt.TxHash)
		}
		entry, err := logEntry(chainID, rawLog)
		if err != nil {
			return domain.Receipt{}, nil, err
		}
		logs = append(logs, entry)
	}
	sort.Slice(logs, func(a, b int) bool { return logs[a].LogIndex < logs[b].LogIndex })

	return receipt, logs, nil
}

func logEntry(chainID uint64, raw ethrpc.Log) (domain.Log, error) {
	blockNumber, err := hexUint(raw.BlockNumber, "log blockNumber")
	if err != nil {
		return domain.Log{}, err
	}
	logIndex, err := hexUint(raw.LogIndex, "log index")
	if err != nil {
		return domain.Log{}, err
	}
	txIndex, err := hexUintOrZero(raw.TransactionIndex, "log tx index")
	if err != nil {
		return domain.Log{}, err
	}
	topics := make([]string, len(raw.Topics))
	for i, topic := range raw.Topics {
		topics[i] = strings.ToLower(topic)
	}
	return domain.Log{
		ChainID:     chainID,
		TxHash:      strings.ToLower(raw.TransactionHash),
		LogIndex:    logIndex,
		BlockNumber: blockNumber,
		BlockHash:   strings.ToLower(raw.BlockHash),
		TxIndex:     txIndex,
		Address:     strings.ToLower(raw.Address),
		Topics:      topics,
		Data:        raw.Data,
		Removed:     raw.Removed,
	}, nil
}

func hexUint(value, field string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: %s is empty", domain.ErrNormalization, field)
	}
	parsed, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", domain.ErrNormalization, field, value, err)
	}
	return parsed, nil
}

func hexUintOrZero(value, field string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	return hexUint(value, field)
}

func hexBig(value, field string) (string, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s is empty", domain.ErrNormalization, field)
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return "", fmt.Errorf("%w: %s %q is not a hex quantity", domain.ErrNormalization, field, value)
	}
	return parsed.String(), nil
}

func hexBigOrEmpty(value, field string) (string, error) {
	if value == "" {
		return "", nil
	}
	return hexBig(value, field)
}
