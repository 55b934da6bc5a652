package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"openscan/internal/domain"
	"openscan/internal/infrastructure/telemetry"
	"openscan/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Producer fans committed write units out to one topic per chain. All
// messages of a unit share the block number key, so a partition preserves
// per-block order.
type Producer struct {
	writer *kafka.Writer
	prefix string
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "openscan-chain"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Producer{writer: writer, prefix: cfg.TopicPrefix}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishBlockUnit emits the block followed by its transactions, receipts
// and logs as one batch.
func (p *Producer) PublishBlockUnit(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error {
	tracer := otel.Tracer("openscan/kafka")
	ctx, span := tracer.Start(ctx, "stream.publish_block_unit", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chain.id", int64(block.ChainID)),
		attribute.Int64("block.number", int64(block.Number)),
		attribute.Int("tx.count", len(txs)),
		attribute.Int("log.count", len(logs)),
	)

	traceID := ""
	if spanCtx := span.SpanContext(); spanCtx.HasTraceID() {
		traceID = spanCtx.TraceID().String()
	}

	envelopes := make([]streaming.Message, 0, 1+len(txs)+len(receipts)+len(logs))
	envelopes = append(envelopes, streaming.Message{
		Type:        streaming.MessageTypeBlock,
		ChainID:     block.ChainID,
		TraceID:     traceID,
		BlockNumber: block.Number,
		BlockHash:   block.Hash,
		Timestamp:   block.Timestamp,
		TxCount:     block.TxCount,
	})
	for _, tx := range txs {
		envelopes = append(envelopes, streaming.Message{
			Type:        streaming.MessageTypeTransaction,
			ChainID:     tx.ChainID,
			TraceID:     traceID,
			BlockNumber: tx.BlockNumber,
			BlockHash:   tx.BlockHash,
			TxHash:      tx.Hash,
			TxIndex:     tx.TxIndex,
			From:        tx.From,
			To:          tx.To,
			Value:       tx.Value,
		})
	}
	for _, receipt := range receipts {
		envelopes = append(envelopes, streaming.Message{
			Type:        streaming.MessageTypeReceipt,
			ChainID:     receipt.ChainID,
			TraceID:     traceID,
			BlockNumber: receipt.BlockNumber,
			BlockHash:   receipt.BlockHash,
			TxHash:      receipt.TxHash,
			TxIndex:     receipt.TxIndex,
			Status:      receipt.Status,
			GasUsed:     receipt.GasUsed,
		})
	}
	for _, log := range logs {
		envelopes = append(envelopes, streaming.Message{
			Type:        streaming.MessageTypeLog,
			ChainID:     log.ChainID,
			TraceID:     traceID,
			BlockNumber: log.BlockNumber,
			BlockHash:   log.BlockHash,
			TxHash:      log.TxHash,
			TxIndex:     log.TxIndex,
			LogIndex:    log.LogIndex,
			Address:     log.Address,
			Topics:      log.Topics,
			Data:        log.Data,
			Removed:     log.Removed,
		})
	}

	topic := p.topicForChain(block.ChainID)
	key := []byte(fmt.Sprintf("block:%d", block.Number))
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)

	messages := make([]kafka.Message, 0, len(envelopes))
	for _, envelope := range envelopes {
		payload, err := streaming.Encode(envelope)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		messages = append(messages, kafka.Message{
			Topic:   topic,
			Key:     key,
			Value:   payload,
			Headers: headers,
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Producer) topicForChain(chainID uint64) string {
	return fmt.Sprintf("%s-%d", p.prefix, chainID)
}
