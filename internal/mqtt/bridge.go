package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/config"
	"github.com/nugget/dazzy/internal/events"
)

// Inbound ask limits.
const (
	askLimit  = 30
	askWindow = time.Minute
	inboxSize = 8
)

// ErrNotConnected is returned by publishes before the first connection.
var ErrNotConnected = errors.New("mqtt: not connected")

// Asker answers one-shot questions. [assistant.Assistant] satisfies it.
type Asker interface {
	Ask(ctx context.Context, channel, text string) (assistant.Reply, error)
	Status() assistant.Status
}

// publisher is the subset of [autopaho.ConnectionManager] the bridge
// publishes through.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Bridge connects the assistant to an MQTT broker.
type Bridge struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	asker      Asker
	turns      *DailyTurns
	bus        *events.Bus
	logger     *slog.Logger
	limiter    *askLimiter
	inbox      chan *paho.Publish

	mu  sync.Mutex
	pub publisher
	cm  *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call [Bridge.Start] to
// connect and serve. The bus is optional.
func New(cfg config.MQTTConfig, instanceID string, asker Asker, bus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		asker:      asker,
		turns:      NewDailyTurns(nil),
		bus:        bus,
		logger:     logger,
		limiter:    newAskLimiter(askLimit, askWindow, logger),
		inbox:      make(chan *paho.Publish, inboxSize),
	}
}

// Start connects to the broker and serves asks, bus events and the
// periodic state loop. It blocks until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.setPublisher(cm)
			b.publishDiscovery(ctx)
			b.publishAvailability(ctx, "online")
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: b.askTopic(), QoS: 1}},
			}); err != nil {
				b.logger.Warn("mqtt subscribe failed", "topic", b.askTopic(), "error", err)
			}
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "dazzy-" + b.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				b.handleIncoming,
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.mu.Lock()
	b.cm = cm
	b.mu.Unlock()

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}
	run(b.limiter.run)
	run(b.work)
	if b.bus != nil {
		sub := b.bus.Subscribe(64)
		run(func(ctx context.Context) { b.forward(ctx, sub) })
		defer b.bus.Unsubscribe(sub)
	}

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	connCancel()

	b.runLoop(ctx)
	wg.Wait()
	return nil
}

// Stop publishes "offline" and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	cm := b.cm
	b.mu.Unlock()
	if cm == nil {
		return nil
	}
	b.publishAvailability(ctx, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. Used as the connwatch probe.
func (b *Bridge) AwaitConnection(ctx context.Context) error {
	b.mu.Lock()
	cm := b.cm
	b.mu.Unlock()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}

// Turns returns the daily turn counter.
func (b *Bridge) Turns() *DailyTurns { return b.turns }

func (b *Bridge) setPublisher(p publisher) {
	b.mu.Lock()
	b.pub = p
	b.mu.Unlock()
}

// --- Topics ---

func (b *Bridge) baseTopic() string {
	return b.cfg.TopicPrefix + "/" + b.cfg.DeviceName
}

func (b *Bridge) availabilityTopic() string { return b.baseTopic() + "/availability" }
func (b *Bridge) askTopic() string          { return b.baseTopic() + "/ask" }
func (b *Bridge) replyTopic() string        { return b.baseTopic() + "/reply" }

func (b *Bridge) stateTopic(entity string) string {
	return b.baseTopic() + "/" + entity
}

func (b *Bridge) discoveryTopic(component, entity string) string {
	return b.cfg.DiscoveryPrefix + "/" + component + "/" + b.cfg.DeviceName + "/" + entity + "/config"
}

// --- Publishing ---

func (b *Bridge) publish(ctx context.Context, msg *paho.Publish) error {
	b.mu.Lock()
	pub := b.pub
	b.mu.Unlock()
	if pub == nil {
		return ErrNotConnected
	}
	_, err := pub.Publish(ctx, msg)
	return err
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (b *Bridge) sensor(entity, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              b.device.Name + " " + name,
		UniqueID:          b.instanceID + "_" + entity,
		StateTopic:        b.stateTopic(entity),
		AvailabilityTopic: b.availabilityTopic(),
		Device:            b.device,
		Icon:              icon,
	}
}

func (b *Bridge) sensorDefinitions() []sensorDef {
	status := b.sensor("status", "Status", "mdi:account-voice")

	lastReply := b.sensor("last_reply", "Last Reply", "mdi:message-reply-text")

	turns := b.sensor("turns_today", "Turns Today", "mdi:counter")
	turns.StateClass = "total_increasing"
	turns.UnitOfMeasurement = "turns"

	busy := b.sensor("busy_today", "Busy Rejections Today", "mdi:timer-sand")
	busy.StateClass = "total_increasing"
	busy.UnitOfMeasurement = "turns"

	uptime := b.sensor("uptime", "Uptime", "mdi:clock-outline")
	uptime.EntityCategory = "diagnostic"

	version := b.sensor("version", "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"

	return []sensorDef{
		{"status", status},
		{"last_reply", lastReply},
		{"turns_today", turns},
		{"busy_today", busy},
		{"uptime", uptime},
		{"version", version},
	}
}

func (b *Bridge) publishDiscovery(ctx context.Context) {
	for _, s := range b.sensorDefinitions() {
		topic := b.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			b.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if err := b.publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: 1, Retain: true}); err != nil {
			b.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
			continue
		}
		b.logger.Debug("mqtt discovery published", "entity", s.entity, "topic", topic)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, status string) {
	err := b.publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		b.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	b.logger.Info("mqtt availability published", "status", status)
}

func (b *Bridge) publishState(ctx context.Context, entity, value string) {
	if err := b.publish(ctx, &paho.Publish{
		Topic:   b.stateTopic(entity),
		Payload: []byte(value),
		Retain:  true,
	}); err != nil {
		b.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
	}
}

// --- Periodic state loop ---

func (b *Bridge) runLoop(ctx context.Context) {
	interval := time.Duration(b.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishStates(ctx)
		}
	}
}

func (b *Bridge) publishStates(ctx context.Context) {
	st := b.asker.Status()
	turns, busy := b.turns.Snapshot()

	states := []struct{ entity, value string }{
		{"status", st.State},
		{"turns_today", strconv.FormatInt(turns, 10)},
		{"busy_today", strconv.FormatInt(busy, 10)},
		{"uptime", (time.Duration(st.UptimeSec) * time.Second).String()},
		{"version", st.Version},
	}
	if st.LastReply != "" {
		states = append(states, struct{ entity, value string }{"last_reply", st.LastReply})
	}
	for _, s := range states {
		b.publishState(ctx, s.entity, s.value)
	}
	b.logger.Log(ctx, config.LevelTrace, "mqtt sensor states published", "entities", len(states))
}

// --- Bus forwarding ---

func (b *Bridge) forward(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			b.handleEvent(ctx, ev)
		}
	}
}

// handleEvent mirrors status transitions and replies onto their
// retained state topics as they happen.
func (b *Bridge) handleEvent(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindStatus:
		if s, ok := ev.Data["status"].(string); ok {
			b.publishState(ctx, "status", s)
		}
	case events.KindReply:
		if s, ok := ev.Data["reply"].(string); ok && s != "" {
			b.publishState(ctx, "last_reply", s)
		}
	}
}

// --- Inbound asks ---

// handleIncoming runs on the paho client goroutine, so it only queues.
func (b *Bridge) handleIncoming(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil || pr.Packet.Topic != b.askTopic() {
		return false, nil
	}
	if !b.limiter.allow() {
		return true, nil
	}
	select {
	case b.inbox <- pr.Packet:
	default:
		b.logger.Warn("mqtt ask dropped, inbox full", "topic", pr.Packet.Topic)
	}
	return true, nil
}

func (b *Bridge) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-b.inbox:
			b.answer(ctx, pkt)
		}
	}
}

// askPayload is the JSON form of an ask message. Plain text payloads
// are accepted too.
type askPayload struct {
	Message string `json:"message"`
}

// replyPayload is published for every answered ask.
type replyPayload struct {
	TurnID  string `json:"turn_id"`
	Reply   string `json:"reply"`
	Source  string `json:"source,omitempty"`
	Handled bool   `json:"handled"`
	Busy    bool   `json:"busy,omitempty"`
}

func parseAsk(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var p askPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			return strings.TrimSpace(p.Message)
		}
	}
	return text
}

func (b *Bridge) answer(ctx context.Context, pkt *paho.Publish) {
	text := parseAsk(pkt.Payload)
	if text == "" {
		b.logger.Debug("mqtt ask ignored, empty payload")
		return
	}

	reply, err := b.asker.Ask(ctx, assistant.ChannelMQTT, text)
	if err != nil {
		b.logger.Warn("mqtt ask failed", "error", err)
		return
	}
	b.turns.Record(reply.Busy())

	payload, err := json.Marshal(replyPayload{
		TurnID:  reply.TurnID,
		Reply:   reply.Text,
		Source:  reply.Source,
		Handled: reply.Handled,
		Busy:    reply.Busy(),
	})
	if err != nil {
		b.logger.Error("mqtt marshal reply", "error", err)
		return
	}

	msg := &paho.Publish{Topic: b.replyTopic(), Payload: payload, QoS: 1}
	if props := pkt.Properties; props != nil && props.ResponseTopic != "" {
		msg.Topic = props.ResponseTopic
		msg.Properties = &paho.PublishProperties{CorrelationData: props.CorrelationData}
	}
	if err := b.publish(ctx, msg); err != nil {
		b.logger.Warn("mqtt reply publish failed", "topic", msg.Topic, "error", err)
		return
	}
	b.logger.Debug("mqtt ask answered", "topic", msg.Topic, "source", reply.Source)
}
