package can

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"

	"github.com/JP-Makers/rs-dbc/base"
)

// MQTTClient is the part of *paho.Client the publisher needs.
type MQTTClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

type Publisher struct {
	client       MQTTClient
	whiteList    base.MQTTTopic
	nonWhiteList base.MQTTTopic
}

func NewPublisher(client MQTTClient, cfg *base.MQTT) *Publisher {
	return &Publisher{
		client:       client,
		whiteList:    cfg.WhiteList,
		nonWhiteList: cfg.NonWhiteList,
	}
}

// PublishFrames sends decoded frames as JSON to the whitelist topic and
// raw frames as text lines to the non-whitelist topic. Empty batches are
// skipped.
func (p *Publisher) PublishFrames(ctx context.Context, decoded, other []Frame) error {
	whiteListData, err := MarshalFrames(decoded)
	if err != nil {
		return errors.Wrap(err, "marshal frames")
	}

	if len(whiteListData) > 0 {
		if err := p.publish(ctx, p.whiteList, whiteListData); err != nil {
			return errors.Wrap(err, "whitelist publish")
		}
	} else {
		log.Debugln("No white List data")
	}

	if otherData := RawLines(other); len(otherData) > 0 {
		if err := p.publish(ctx, p.nonWhiteList, otherData); err != nil {
			return errors.Wrap(err, "non-whitelist publish")
		}
	} else {
		log.Debugln("No raw data")
	}

	return nil
}

func (p *Publisher) publish(ctx context.Context, topic base.MQTTTopic, payload []byte) error {
	_, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic.Topic,
		QoS:     byte(topic.Qos),
		Retain:  topic.Retained,
		Payload: payload,
	})
	return err
}

// DialMQTT connects to the configured broker.
func DialMQTT(ctx context.Context, cfg *base.MQTT) (*paho.Client, error) {
	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Broker)
	}
	log.Debugln("Success to connect to ", cfg.Broker)

	client := paho.NewClient(paho.ClientConfig{
		Conn: packets.NewThreadSafeConn(tcpConn),
	})

	cp := &paho.Connect{
		KeepAlive:    cfg.KeepAlive,
		ClientID:     cfg.Clientid,
		CleanStart:   true,
		Username:     cfg.Username,
		Password:     []byte(cfg.Password),
		UsernameFlag: cfg.Username != "",
		PasswordFlag: cfg.Password != "",
	}

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		return nil, errors.Wrapf(err, "mqtt connect %s", cfg.Broker)
	}

	if ca.ReasonCode != 0 {
		reason := ""
		if ca.Properties != nil {
			reason = ca.Properties.ReasonString
		}
		return nil, errors.Newf("failed to connect to %s : %d - %s", cfg.Broker, ca.ReasonCode, reason)
	}

	log.Debugf("Connected to %s", cfg.Broker)
	return client, nil
}
