package natsjetstream

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorecord/messaging"
)

type published struct {
	subject string
	data    []byte
	header  nats.Header
}

// fakeJetStream 只实现发布与流管理，订阅返回错误
type fakeJetStream struct {
	published []published
	streams   map[string]*nats.StreamConfig
	pubErr    error
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	f.published = append(f.published, published{subject: m.Subject, data: m.Data, header: m.Header})
	return &nats.PubAck{Stream: "GORECORD", Sequence: uint64(len(f.published))}, nil
}

func (f *fakeJetStream) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if cfg, ok := f.streams[stream]; ok {
		return &nats.StreamInfo{Config: *cfg}, nil
	}
	return nil, nats.ErrStreamNotFound
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.streams == nil {
		f.streams = make(map[string]*nats.StreamConfig)
	}
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetStream) QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error) {
	return nil, errors.New("not supported in fake")
}

func startedTransport(t *testing.T, js *fakeJetStream) *Transport {
	t.Helper()
	tpt := NewTransport(Config{})
	tpt.js = js
	require.NoError(t, tpt.Start(context.Background()))
	return tpt
}

func TestTransport_StartCreatesStream(t *testing.T) {
	js := &fakeJetStream{}
	startedTransport(t, js)

	cfg, ok := js.streams["GORECORD"]
	require.True(t, ok)
	assert.Equal(t, []string{"events.>"}, cfg.Subjects)
	assert.Equal(t, nats.LimitsPolicy, cfg.Retention)
}

func TestTransport_Publish(t *testing.T) {
	js := &fakeJetStream{}
	tpt := startedTransport(t, js)

	msg := messaging.NewMessage("orm.user.create", map[string]any{"id": 3})
	require.NoError(t, tpt.Publish(context.Background(), msg))

	require.Len(t, js.published, 1)
	assert.Equal(t, "events.orm.user.create", js.published[0].subject)
	assert.Equal(t, "orm.user.create", js.published[0].header.Get(HeaderType))

	decoded, err := messaging.Decode(js.published[0].data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, float64(3), decoded.Payload.(map[string]any)["id"])

	js.pubErr = errors.New("no responders")
	err = tpt.PublishAll(context.Background(), []messaging.IMessage{msg})
	assert.ErrorIs(t, err, js.pubErr)
	assert.ErrorContains(t, err, "message 1/1")

	require.NoError(t, tpt.Close())
	assert.ErrorIs(t, tpt.Publish(context.Background(), msg), ErrNotRunning)
}

func TestTransport_DispatchAndNames(t *testing.T) {
	tpt := NewTransport(Config{SubjectPrefix: "app."})

	var got []string
	h := &messaging.FuncHandler{Name: "rec", Fn: func(ctx context.Context, m messaging.IMessage) error {
		got = append(got, m.GetType())
		return nil
	}}
	require.NoError(t, tpt.Subscribe(messaging.WildcardType, h))
	require.NoError(t, tpt.dispatch(context.Background(), messaging.NewMessage("orm.task.update", nil)))
	assert.Equal(t, []string{"orm.task.update"}, got)

	assert.Equal(t, "app.>", tpt.subject(messaging.WildcardType))
	assert.Equal(t, "gorecord-orm_task_update", tpt.durable("orm.task.update"))
	assert.Equal(t, "gorecord-all", tpt.durable("*"))

	require.NoError(t, tpt.Unsubscribe(messaging.WildcardType, h))
	assert.Equal(t, 0, tpt.Stats().HandlerCount)
	assert.Error(t, tpt.Unsubscribe(messaging.WildcardType, h))
	assert.Error(t, tpt.Subscribe("x", nil))
}

func TestTransport_SubscribeFailsWhenConsumerCannotStart(t *testing.T) {
	tpt := startedTransport(t, &fakeJetStream{})
	err := tpt.Subscribe("orm.task.create", &messaging.FuncHandler{Name: "h", Fn: func(context.Context, messaging.IMessage) error { return nil }})
	assert.ErrorContains(t, err, "subscribe orm.task.create")
}

func TestTransport_DecodePrefersHeaderType(t *testing.T) {
	tpt := NewTransport(Config{SubjectPrefix: "app"})
	assert.Equal(t, "app.orm.task.create", tpt.subject("orm.task.create"))

	data, err := messaging.Encode(messaging.NewMessage("", nil))
	require.NoError(t, err)

	msg := nats.NewMsg("app.orm.task.delete")
	msg.Data = data
	decoded, err := tpt.decode(msg)
	require.NoError(t, err)
	assert.Equal(t, "orm.task.delete", decoded.Type, "无消息头时取主题后缀")

	msg.Header.Set(HeaderType, "orm.task.update")
	decoded, err = tpt.decode(msg)
	require.NoError(t, err)
	assert.Equal(t, "orm.task.update", decoded.Type)

	msg.Data = []byte("{")
	_, err = tpt.decode(msg)
	assert.Error(t, err)
}

func TestConfig_StreamConfig(t *testing.T) {
	cfg := Config{Stream: "S", Retention: "WorkQueue", MaxBytes: 1 << 20, Replicas: 3}
	cfg.normalize()
	sc := cfg.streamConfig()
	assert.Equal(t, "S", sc.Name)
	assert.Equal(t, nats.WorkQueuePolicy, sc.Retention)
	assert.Equal(t, int64(1<<20), sc.MaxBytes)
	assert.Equal(t, 3, sc.Replicas)
	assert.Equal(t, nats.InterestPolicy, retentionPolicy("interest"))
}
