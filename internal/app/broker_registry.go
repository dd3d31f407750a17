package app

import (
	"context"
	"strings"
	"time"

	"task-router/internal/brokers"
	"task-router/internal/brokers/aws"
	"task-router/internal/brokers/gcp"
	"task-router/internal/brokers/kafka"
	"task-router/internal/brokers/memory"
	"task-router/internal/brokers/rabbitmq"
	redisbroker "task-router/internal/brokers/redis"
	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/common/utils"
	"task-router/internal/config"
)

// RegisterBrokerFactories registers every broker backend with registry
func RegisterBrokerFactories(registry *brokers.Registry) {
	registry.Register("memory", memory.GetFactory())
	registry.Register("redis", redisbroker.GetFactory())
	registry.Register("rabbitmq", rabbitmq.GetFactory())
	registry.Register("kafka", kafka.GetFactory())
	registry.Register("aws", aws.GetFactory())
	registry.Register("gcp", gcp.GetFactory())
}

// brokerConfig maps the BROKER_* settings onto the backend's own config type
func brokerConfig(cfg *config.Config) (brokers.BrokerConfig, error) {
	b := cfg.Broker
	switch b.Type {
	case "memory":
		return memory.DefaultConfig(), nil
	case "redis":
		return &redisbroker.Config{
			Address:       cfg.Redis.Address,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			ConsumerGroup: b.ConsumerGroup,
		}, nil
	case "rabbitmq":
		return &rabbitmq.Config{URL: b.RabbitMQURL}, nil
	case "kafka":
		var servers []string
		for _, s := range strings.Split(b.KafkaBrokers, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		return &kafka.Config{Brokers: servers, GroupID: b.KafkaGroupID}, nil
	case "aws":
		return &aws.Config{
			Region:          b.AWSRegion,
			AccessKeyID:     b.AWSAccessKeyID,
			SecretAccessKey: b.AWSSecretAccessKey,
			QueueURL:        b.AWSQueueURL,
			TopicArn:        b.AWSTopicARN,
		}, nil
	case "gcp":
		return &gcp.Config{
			ProjectID:          b.GCPProjectID,
			CredentialsPath:    b.GCPCredentialsFile,
			SubscriptionPrefix: b.ConsumerGroup,
			CreateMissing:      true,
		}, nil
	}
	return nil, errors.ConfigError("unsupported broker type: " + b.Type)
}

func (app *App) initializeBroker(ctx context.Context) error {
	brokerCfg, err := brokerConfig(app.Config)
	if err != nil {
		return err
	}

	// share the Redis pool instead of opening a second one
	if rc, ok := brokerCfg.(*redisbroker.Config); ok && app.Redis != nil {
		broker, err := redisbroker.NewBrokerWithClient(app.Redis.GetGoRedisClient(), rc)
		if err != nil {
			return err
		}
		app.Broker = broker
		app.Logger.Info("Broker: Redis Streams (shared client)")
		return nil
	}

	registry := brokers.NewRegistry()
	RegisterBrokerFactories(registry)

	retry := utils.RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			return !errors.IsType(err, errors.ErrTypeConfig)
		},
	}

	var broker brokers.Broker
	err = utils.RetryWithBackoff(ctx, retry, func() error {
		var createErr error
		broker, createErr = registry.Create(app.Config.Broker.Type, brokerCfg)
		if createErr != nil {
			app.Logger.Warn("Broker connection failed",
				logging.String("type", app.Config.Broker.Type),
				logging.Err(createErr),
			)
		}
		return createErr
	})
	if err != nil {
		return err
	}

	app.Broker = broker
	app.Logger.Info("Broker: Connected",
		logging.String("type", broker.Name()),
		logging.String("connection", brokerCfg.GetConnectionString()),
	)
	return nil
}
