package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/apk-analysis/apk-libdetector/internal/config"
	"github.com/apk-analysis/apk-libdetector/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher 报告发布接口
type Publisher interface {
	Publish(ctx context.Context, doc *Document) error
	Close() error
}

// AMQPPublisher 把报告作为持久化 JSON 消息发布到 RabbitMQ 队列
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *logrus.Logger
}

// AMQPURL 构建连接地址
func AMQPURL(cfg *config.RabbitMQConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.VHost,
	}
	if cfg.VHost == "/" {
		u.Path = "/"
	}
	return u.String()
}

// NewAMQPPublisher 连接 RabbitMQ 并声明队列，连接失败按退避重试
func NewAMQPPublisher(ctx context.Context, cfg *config.RabbitMQConfig, logger *logrus.Logger) (*AMQPPublisher, error) {
	addr := AMQPURL(cfg)

	conn, err := retry.Do(ctx, retry.DefaultConfig("rabbitmq dial", logger), func(ctx context.Context) (*amqp.Connection, error) {
		conn, err := amqp.DialConfig(addr, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
		})
		if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) {
			return nil, retry.Permanent(err)
		}
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":  cfg.Host,
		"port":  cfg.Port,
		"queue": cfg.Queue,
	}).Info("Connected to RabbitMQ")

	return &AMQPPublisher{
		conn:    conn,
		channel: ch,
		queue:   cfg.Queue,
		logger:  logger,
	}, nil
}

// Publish 发布报告
func (p *AMQPPublisher) Publish(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    doc.RunID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"queue":     p.queue,
		"run_id":    doc.RunID,
		"libraries": len(doc.Libraries),
	}).Info("Report published to queue")
	return nil
}

// Close 关闭连接
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.logger.WithError(err).Warn("Failed to close channel")
	}
	return p.conn.Close()
}
