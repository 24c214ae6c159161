package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig 描述 RabbitMQ 通知渠道的连接参数。
type AMQPConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// AMQPNotifier 将事件以 JSON 投递到 RabbitMQ 队列，
// 供人工审批前端消费（等待审批、硬阻断、终态失败）。
type AMQPNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPNotifier 创建 RabbitMQ 通知器。
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "warden.alerts"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Channel 返回 AMQP 渠道。
func (n *AMQPNotifier) Channel() Channel { return ChannelAMQP }

// Notify 将事件发布到队列。
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.ch == nil {
		return errors.New("AMQP 通知器未初始化")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
