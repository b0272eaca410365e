package kafka

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
)

// Brokers returns the broker addresses: host:port of the parameter followed
// by the BROKERS setting
func Brokers(params *core.ConnectorParameter) []string {
	brokers := []string{net.JoinHostPort(params.Host(), strconv.Itoa(params.Port()))}
	for _, b := range strings.Split(params.SpecificStringSetting(SettingBrokers, ""), ",") {
		if b = strings.TrimSpace(b); b != "" && b != brokers[0] {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// SaramaConfig builds the client configuration from the parameter
func SaramaConfig(params *core.ConnectorParameter) (*sarama.Config, error) {
	config := sarama.NewConfig()
	if id := params.ApplicationID(); id != "" {
		config.ClientID = id
	}
	if t := params.RequestTimeout(); t > 0 {
		config.Net.DialTimeout = t
		config.Net.ReadTimeout = t
		config.Net.WriteTimeout = t
	}
	if k := params.KeepAlive(); k > 0 {
		config.Net.KeepAlive = k
	}

	switch acks := params.SpecificStringSetting(SettingAcks, "all"); acks {
	case "all", "-1":
		config.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		config.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid %s %q", SettingAcks, acks)
	}
	config.Producer.Retry.Max = params.SpecificIntSetting(SettingRetries, 3)
	// a SyncProducer needs both
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	switch c := params.SpecificStringSetting(SettingCompression, "none"); c {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
		config.Version = sarama.V2_1_0_0
	case "none", "":
		config.Producer.Compression = sarama.CompressionNone
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid %s %q", SettingCompression, c)
	}

	switch o := params.SpecificStringSetting(SettingOffset, "latest"); o {
	case "latest", "newest":
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	case "earliest", "oldest":
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid %s %q", SettingOffset, o)
	}
	config.Consumer.Return.Errors = true
	config.Consumer.MaxWaitTime = 250 * time.Millisecond

	if s := params.Schema(); s == core.SchemaSSL {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if tok := params.IdentityToken(core.AnyEndpoint); !tok.IsAnonymous() {
		if tok.Type != core.TokenUsername {
			return nil, errors.Newf(errors.ErrorTypeConfig, "identity token type %q is not supported by kafka", tok.Type)
		}
		// username tokens authenticate with SASL/PLAIN
		config.Net.SASL.Enable = true
		config.Net.SASL.User = tok.Username
		config.Net.SASL.Password = tok.Password
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka configuration")
	}
	return config, nil
}
