// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"doctalk-go/internal/config"
	"doctalk-go/pkg/log"
	"doctalk-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
// Process 返回错误时消息会被重投递；重试次数耗尽后消费者调用 HandleFailure 做终态处理。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
	HandleFailure(ctx context.Context, task tasks.IngestTask, cause error)
}

// Producer 发送文档入库任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个文档入库任务。
// 以文档 ID 作为消息键，保证同一文档的任务落在同一分区内有序。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

// Close 关闭生产者连接。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费入库任务并驱动处理器，失败的任务借助 Redis 计数做有界重投递。
type Consumer struct {
	reader      *kafka.Reader
	rdb         *redis.Client
	processor   TaskProcessor
	maxAttempts int64
}

// NewConsumer 创建入库任务消费者。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{reader: r, rdb: rdb, processor: processor, maxAttempts: maxAttempts}
}

// Start 进入消费循环，直到 ctx 取消。通常在独立的 goroutine 中运行。
func (c *Consumer) Start(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			c.commit(ctx, m)
			continue
		}

		log.Infof("开始处理入库任务: documentID=%s, fileName=%s", task.DocumentID, task.FileName)
		if err := c.processor.Process(ctx, task); err != nil {
			log.Errorf("处理入库任务失败: documentID=%s, error: %v", task.DocumentID, err)
			// 使用 Redis 计数失败次数，达到阈值后做终态处理并提交 offset 终止重试
			attemptsKey := fmt.Sprintf("ingest:attempts:%s", task.DocumentID)
			attempts, incErr := c.rdb.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				log.Errorf("记录任务失败次数失败: %v", incErr)
				continue
			}
			_ = c.rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()

			if attempts >= c.maxAttempts {
				log.Errorf("入库任务多次失败(>=%d)，终止重试: documentID=%s", c.maxAttempts, task.DocumentID)
				c.processor.HandleFailure(ctx, task, err)
				_ = c.rdb.Del(ctx, attemptsKey).Err()
				c.commit(ctx, m)
			}
			// attempts 未达上限时不提交 offset，让 Kafka 重投递
		} else {
			log.Infof("入库任务处理成功: documentID=%s", task.DocumentID)
			// 清理失败计数
			_ = c.rdb.Del(ctx, fmt.Sprintf("ingest:attempts:%s", task.DocumentID)).Err()
			c.commit(ctx, m)
		}
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
