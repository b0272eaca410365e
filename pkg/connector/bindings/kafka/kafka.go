// Package kafka binds Kafka topics. The binding is event-only: every
// partition of the subscribed topics is consumed in the background and
// each message is delivered on a channel named after its topic. Writes go
// to the record channel's topic, or TOPIC when the record has none.
//
// Settings:
//
//	TOPICS       comma separated topics to consume
//	TOPIC        default topic for writes
//	BROKERS      additional comma separated host:port brokers
//	FORMAT       payload format, json (default) or avro
//	AVRO_SCHEMA  record schema when FORMAT is avro
//	KEY_FIELD    record field mapped to the message key
//	OFFSET       latest (default) or earliest
//	ACKS         all (default), 1 or 0
//	RETRIES      producer retries (default 3)
//	COMPRESSION  none (default), gzip, snappy, lz4 or zstd
package kafka

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	"github.com/ajitpratap0/machconn/pkg/connector/translator"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"go.uber.org/zap"
)

// Type is the registry name of the binding
const Type = "kafka"

const (
	SettingTopics      = "TOPICS"
	SettingTopic       = "TOPIC"
	SettingBrokers     = "BROKERS"
	SettingFormat      = "FORMAT"
	SettingAvroSchema  = "AVRO_SCHEMA"
	SettingKeyField    = "KEY_FIELD"
	SettingOffset      = "OFFSET"
	SettingAcks        = "ACKS"
	SettingRetries     = "RETRIES"
	SettingCompression = "COMPRESSION"
)

// Payload formats
const (
	FormatJSON = "json"
	FormatAvro = "avro"
)

// Capabilities of the binding
var Capabilities = core.Capabilities{
	SupportsEvents: true,
	EventOnly:      true,
	SpecificSettings: []string{
		SettingTopics, SettingTopic, SettingBrokers, SettingFormat, SettingAvroSchema,
		SettingKeyField, SettingOffset, SettingAcks, SettingRetries, SettingCompression,
	},
}

// Message is the native value of the binding
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	Time  time.Time
}

// ConsumerFactory creates a consumer for the brokers
type ConsumerFactory func(brokers []string, config *sarama.Config) (sarama.Consumer, error)

// ProducerFactory creates a synchronous producer for the brokers
type ProducerFactory func(brokers []string, config *sarama.Config) (sarama.SyncProducer, error)

// Clients creates the sarama clients of a connection
type Clients struct {
	Consumer ConsumerFactory
	Producer ProducerFactory
}

// DefaultClients connects to real brokers
func DefaultClients() Clients {
	return Clients{Consumer: sarama.NewConsumer, Producer: sarama.NewSyncProducer}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Driver is the Kafka driver
type Driver struct {
	clients Clients

	host       base.Host[Message]
	consumer   sarama.Consumer
	partitions []sarama.PartitionConsumer
	producer   sarama.SyncProducer
	topic      string

	mu sync.Mutex
}

var _ base.Driver[Message] = (*Driver)(nil)

// NewDriver creates a driver using clients
func NewDriver(clients Clients) *Driver {
	return &Driver{clients: clients}
}

func (d *Driver) Open(ctx context.Context, host base.Host[Message]) error {
	params := host.Parameter()
	config, err := SaramaConfig(params)
	if err != nil {
		return err
	}
	brokers := Brokers(params)
	topics := splitList(params.SpecificStringSetting(SettingTopics, ""))

	producer, err := d.clients.Producer(brokers, config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}
	d.host = host
	d.producer = producer
	d.topic = params.SpecificStringSetting(SettingTopic, "")

	if len(topics) > 0 {
		if err := d.subscribe(brokers, config, topics); err != nil {
			_ = d.Close(ctx)
			return err
		}
	}
	host.Logger().Info("connected to kafka",
		zap.Strings("brokers", brokers),
		zap.Strings("topics", topics),
		zap.Int("partitions", len(d.partitions)))
	return nil
}

func (d *Driver) subscribe(brokers []string, config *sarama.Config, topics []string) error {
	consumer, err := d.clients.Consumer(brokers, config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka consumer")
	}
	d.consumer = consumer
	for _, topic := range topics {
		ids, err := consumer.Partitions(topic)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConnection, "cannot list partitions of %s", topic)
		}
		for _, id := range ids {
			pc, err := consumer.ConsumePartition(topic, id, config.Consumer.Offsets.Initial)
			if err != nil {
				return errors.Wrapf(err, errors.ErrorTypeConnection, "cannot consume %s/%d", topic, id)
			}
			d.mu.Lock()
			d.partitions = append(d.partitions, pc)
			d.mu.Unlock()
			if !d.host.Go(func(ctx context.Context) { d.consume(ctx, pc) }) {
				return errors.New(errors.ErrorTypeConnection, "connector is closing")
			}
		}
	}
	return nil
}

// consume delivers the messages of one partition until ctx ends or the
// partition consumer is closed
func (d *Driver) consume(ctx context.Context, pc sarama.PartitionConsumer) {
	messages, errs := pc.Messages(), pc.Errors()
	for messages != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			m := Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Time: msg.Timestamp}
			if err := d.host.Received(ctx, msg.Topic, m, true); err != nil {
				d.host.Error("cannot deliver message from "+msg.Topic, err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.host.Error("kafka consumer error", err)
		}
	}
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	partitions := d.partitions
	d.partitions = nil
	d.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, pc := range partitions {
		keep(pc.Close())
	}
	if d.consumer != nil {
		keep(d.consumer.Close())
		d.consumer = nil
	}
	if d.producer != nil {
		keep(d.producer.Close())
		d.producer = nil
	}
	return first
}

// Read is not supported; messages arrive as events
func (d *Driver) Read(context.Context) error {
	return errors.New(errors.ErrorTypeCapability, "kafka delivers messages as events only")
}

// Write sends the message to its topic, the channel or TOPIC
func (d *Driver) Write(_ context.Context, channel string, data Message) error {
	topic := data.Topic
	if topic == "" {
		topic = channel
	}
	if topic == "" {
		topic = d.topic
	}
	if topic == "" {
		return errors.New(errors.ErrorTypeValidation, "message names no topic")
	}
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(data.Value)}
	if data.Key != nil {
		msg.Key = sarama.ByteEncoder(data.Key)
	}
	if !data.Time.IsZero() {
		msg.Timestamp = data.Time
	}
	if _, _, err := d.producer.SendMessage(msg); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "cannot send to %s", topic)
	}
	return nil
}

// MessageTranslator translates messages to records with payload. The topic
// is the record channel; with a key field the message key travels in that
// field.
func MessageTranslator(payload core.TypeTranslator[[]byte, *models.Record], keyField string) core.TypeTranslator[Message, *models.Record] {
	return translator.NewFunc(
		func(m Message) (*models.Record, error) {
			rec, err := payload.From(m.Value)
			if err != nil {
				return nil, err
			}
			rec.Channel = m.Topic
			if !m.Time.IsZero() {
				rec.Timestamp = m.Time
			}
			if keyField != "" && m.Key != nil {
				rec.Set(keyField, string(m.Key))
			}
			return rec, nil
		},
		func(rec *models.Record) (Message, error) {
			var key []byte
			if keyField != "" && rec.Has(keyField) {
				key = []byte(models.ToString(rec.Fields[keyField]))
				rec = rec.Clone()
				delete(rec.Fields, keyField)
			}
			value, err := payload.To(rec)
			if err != nil {
				return Message{}, err
			}
			return Message{Topic: rec.Channel, Key: key, Value: value, Time: rec.Timestamp}, nil
		},
	)
}

// PayloadTranslator returns the payload translator selected by FORMAT
func PayloadTranslator(source string, params *core.ConnectorParameter) (core.TypeTranslator[[]byte, *models.Record], error) {
	switch format := strings.ToLower(params.SpecificStringSetting(SettingFormat, FormatJSON)); format {
	case FormatJSON:
		return translator.NewJSONRecord(source), nil
	case FormatAvro:
		schema, ok := params.SpecificSetting(SettingAvroSchema)
		if !ok || strings.TrimSpace(schema) == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "%s requires %s", FormatAvro, SettingAvroSchema)
		}
		avro, err := translator.NewAvroRecord(source, schema)
		if err != nil {
			return nil, err
		}
		return avro, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown %s %q", SettingFormat, format)
	}
}

// New creates a Kafka connector using clients
func New(cfg registry.FactoryConfig, clients Clients) (*base.Connector[Message, *models.Record], error) {
	if cfg.Parameter == nil {
		return nil, errors.NewConstruction("kafka connector needs a parameter")
	}
	payload, err := PayloadTranslator(cfg.Name, cfg.Parameter)
	if err != nil {
		return nil, err
	}
	keyField := cfg.Parameter.SpecificStringSetting(SettingKeyField, "")
	adapter := core.NewAdapter[Message, *models.Record](MessageTranslator(payload, keyField))
	return base.NewConnector[Message, *models.Record](NewDriver(clients), Capabilities,
		[]core.ProtocolAdapter[Message, *models.Record]{adapter},
		cfg.BaseOptions(Type)...)
}

// Info describes the binding
func Info() registry.ConnectorInfo {
	return registry.ConnectorInfo{
		Type:             Type,
		Description:      "event-only Kafka topics",
		Capabilities:     Capabilities,
		OptionalSettings: Capabilities.SpecificSettings,
	}
}

// Register registers the binding; zero clients connect to real brokers
func Register(r *registry.Registry, clients Clients) error {
	if clients.Consumer == nil || clients.Producer == nil {
		def := DefaultClients()
		if clients.Consumer == nil {
			clients.Consumer = def.Consumer
		}
		if clients.Producer == nil {
			clients.Producer = def.Producer
		}
	}
	return r.Register(Info(), func(cfg registry.FactoryConfig) (registry.Connector, error) {
		c, err := New(cfg, clients)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
