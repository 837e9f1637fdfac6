package lkdbus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

// MQTTConfig configures the concrete MQTT transport adapter. Each LKD
// object id maps to a retained state topic for reads/subscriptions and
// a command topic for writes; action documents are published to a
// type-specific action topic.
type MQTTConfig struct {
	Broker   string
	Username string
	Password string
	ClientID string
}

// MQTTClient implements Client over an MQTT broker. Object state lives
// on retained topics `lkd/object/{id}/state`; writes publish to
// `lkd/object/{id}/set`; actions publish to `lkd/action/{type}`. This
// is one possible wire mapping, supplied for demonstration and testing
// rather than as a bit-exact rendition of LKD's real protocol.
type MQTTClient struct {
	cfg    MQTTConfig
	logger *slog.Logger

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
	objects map[string]*mqttObject
}

// NewMQTTClient creates a client but does not connect; call Connect.
func NewMQTTClient(cfg MQTTConfig, logger *slog.Logger) *MQTTClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTClient{
		cfg:     cfg,
		logger:  logger,
		objects: make(map[string]*mqttObject),
	}
}

func objectStateTopic(id string) string  { return "lkd/object/" + id + "/state" }
func objectSetTopic(id string) string    { return "lkd/object/" + id + "/set" }
func actionTopic(actionType string) string { return "lkd/action/" + actionType }

// Connect opens the MQTT connection and subscribes to the wildcard
// state topic so that any object handle acquired later observes
// retained and live updates without a per-object subscribe round trip.
func (c *MQTTClient) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("lkdbus: parse broker url: %w", err)
	}

	clientID := c.cfg.ClientID
	if clientID == "" {
		// An empty configured client ID would let two instances of this
		// process collide on the broker and kick each other's session.
		clientID = "hwsupervisor-" + uuid.NewString()
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("lkdbus connected", "broker", c.cfg.Broker)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: "lkd/object/+/state", QoS: 1}},
			}); err != nil {
				c.logger.Error("lkdbus subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			c.logger.Warn("lkdbus connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(autopaho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("lkdbus: connect: %w", err)
	}
	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()
	return nil
}

func (c *MQTTClient) onPublishReceived(pr autopaho.PublishReceived) (bool, error) {
	id, ok := objectIDFromStateTopic(pr.Packet.Topic)
	if !ok {
		return true, nil
	}
	c.mu.Lock()
	obj, ok := c.objects[id]
	c.mu.Unlock()
	if !ok {
		return true, nil
	}
	v, err := decodeValue(obj.kind, string(pr.Packet.Payload))
	if err != nil {
		c.logger.Warn("lkdbus: malformed object payload", "object", id, "error", err)
		return true, nil
	}
	obj.applyChange(v)
	return true, nil
}

func objectIDFromStateTopic(topic string) (string, bool) {
	const prefix, suffix = "lkd/object/", "/state"
	if len(topic) <= len(prefix)+len(suffix) {
		return "", false
	}
	if topic[:len(prefix)] != prefix || topic[len(topic)-len(suffix):] != suffix {
		return "", false
	}
	return topic[len(prefix) : len(topic)-len(suffix)], true
}

// AwaitConnection blocks until the connection is live.
func (c *MQTTClient) AwaitConnection(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("lkdbus: not connected")
	}
	return cm.AwaitConnection(ctx)
}

// Close disconnects from the broker.
func (c *MQTTClient) Close(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

// GetObject returns a handle for id, creating and registering it the
// first time it is seen. kind must be supplied out of band by callers
// (the sensor/alert construction code knows each object's declared
// type from configuration); GetObjectTyped does so explicitly.
func (c *MQTTClient) GetObject(ctx context.Context, id string) (ObjectHandle, error) {
	return c.GetObjectTyped(ctx, id, KindBool)
}

// GetObjectTyped returns a handle for id with an explicit wire kind.
func (c *MQTTClient) GetObjectTyped(ctx context.Context, id string, kind Kind) (ObjectHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.objects[id]; ok {
		return obj, nil
	}
	obj := &mqttObject{client: c, id: id, kind: kind}
	c.objects[id] = obj
	return obj, nil
}

// ExecuteAction publishes an action document to its type-specific
// topic as a flat key=value payload.
func (c *MQTTClient) ExecuteAction(ctx context.Context, action ActionDocument) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("lkdbus: not connected")
	}
	payload := encodeActionFields(action.Fields)
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   actionTopic(action.Type),
		Payload: payload,
		QoS:     1,
	})
	if err != nil {
		return fmt.Errorf("lkdbus: execute action %q: %w", action.Type, err)
	}
	return nil
}

func encodeActionFields(fields map[string]string) []byte {
	// Deterministic, human-readable wire format; LKD's real action
	// transport is out of scope, this is one concrete rendering.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b []byte
	for i, k := range keys {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, fields[k]...)
	}
	return b
}

type mqttObject struct {
	client *MQTTClient
	id     string
	kind   Kind

	mu          sync.RWMutex
	value       Value
	hasValue    bool
	subscribers []ChangeFunc
}

func (o *mqttObject) ID() string { return o.id }

func (o *mqttObject) Value(ctx context.Context) (Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.hasValue {
		return Value{}, fmt.Errorf("lkdbus: object %q: no value observed yet", o.id)
	}
	return o.value, nil
}

func (o *mqttObject) SetValue(ctx context.Context, v Value) error {
	o.client.mu.Lock()
	cm := o.client.cm
	o.client.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("lkdbus: not connected")
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   objectSetTopic(o.id),
		Payload: []byte(encodeValue(v)),
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		return fmt.Errorf("lkdbus: set object %q: %w", o.id, err)
	}
	return nil
}

func (o *mqttObject) Subscribe(fn ChangeFunc) func() {
	o.mu.Lock()
	o.subscribers = append(o.subscribers, fn)
	idx := len(o.subscribers) - 1
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if idx < len(o.subscribers) {
			o.subscribers[idx] = nil
		}
	}
}

func (o *mqttObject) applyChange(v Value) {
	o.mu.Lock()
	o.value = v
	o.hasValue = true
	subs := make([]ChangeFunc, len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(o.id, v)
		}
	}
}

func encodeValue(v Value) string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return ""
	}
}

func decodeValue(kind Kind, payload string) (Value, error) {
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(payload)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case KindInt:
		i, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return Value{}, err
		}
		return FloatValue(f), nil
	default:
		return Value{}, fmt.Errorf("unknown kind %v", kind)
	}
}
