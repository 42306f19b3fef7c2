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

	"docbrain-go/internal/config"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/tasks"
)

// TaskProcessor 定义了能处理入库任务的服务接口。
// 它把消费者与具体的管道实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestionTask) error
}

// Producer 负责把入库任务投递到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建一个 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("[Kafka] 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestionTask 发送一个入库任务到 Kafka，以任务 ID 作为消息 key。
func (p *Producer) ProduceIngestionTask(ctx context.Context, task tasks.IngestionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化入库任务失败: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费入库任务并交给 TaskProcessor 处理。
// 手动提交 offset 实现 at-least-once：处理成功才提交；
// 失败时用 Redis 计数，达到上限后提交 offset 放弃该任务（死信）。
type Consumer struct {
	reader      *kafka.Reader
	rdb         *redis.Client
	processor   TaskProcessor
	maxAttempts int64
}

// NewConsumer 创建一个 Kafka 消费者。
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
	return &Consumer{
		reader:      r,
		rdb:         rdb,
		processor:   processor,
		maxAttempts: maxAttempts,
	}
}

// Start 运行消费循环，直到 ctx 被取消。
func (c *Consumer) Start(ctx context.Context) {
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("[Kafka] 消费者收到退出信号")
				break
			}
			log.Errorf("[Kafka] 读取消息失败: %v", err)
			break
		}

		log.Infof("[Kafka] 收到消息: offset %d", m.Offset)

		var task tasks.IngestionTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			c.commit(ctx, m)
			continue
		}

		log.Infof("[Kafka] 开始处理入库任务: TaskID=%s, Document=%s", task.TaskID, task.DocumentName)
		if err := c.processor.Process(ctx, task); err != nil {
			log.Errorf("[Kafka] 入库任务处理失败: TaskID=%s, Error: %v", task.TaskID, err)
			c.handleFailure(ctx, m, task)
			continue
		}

		log.Infof("[Kafka] 入库任务处理成功: TaskID=%s", task.TaskID)
		// 清理失败计数
		_ = c.rdb.Del(ctx, attemptsKey(task.TaskID)).Err()
		c.commit(ctx, m)
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("[Kafka] 关闭消费者失败: %v", err)
	}
}

// handleFailure 用 Redis 记录失败次数，达到上限后提交 offset 终止重试。
func (c *Consumer) handleFailure(ctx context.Context, m kafka.Message, task tasks.IngestionTask) {
	key := attemptsKey(task.TaskID)
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
		log.Errorf("[Kafka] 记录任务失败次数出错: %v", err)
		return
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()

	if attempts >= c.maxAttempts {
		log.Errorf("[Kafka] 入库任务失败次数达到上限(%d)，提交 offset 终止重试: TaskID=%s", c.maxAttempts, task.TaskID)
		c.commit(ctx, m)
	}
	// attempts 未达上限时不提交 offset，Kafka 会重新投递
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("[Kafka] 提交消息 offset 失败: %v", err)
	}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}
