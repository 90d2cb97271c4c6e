package sink

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/temperature"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

// pendingToken never completes
type pendingToken struct {
	mqtt.Token
}

func (pendingToken) WaitTimeout(time.Duration) bool { return false }

type fakeMQTT struct {
	mqtt.Client
	connectToken mqtt.Token
	connected    bool
	publishErr   error
	published    map[string][]byte
	disconnected bool
}

func (f *fakeMQTT) IsConnectionOpen() bool { return f.connected }

func (f *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	switch v := payload.(type) {
	case []byte:
		f.published[topic] = v
	case string:
		f.published[topic] = []byte(v)
	}
	return newDoneToken(f.publishErr)
}

func (f *fakeMQTT) Connect() mqtt.Token { return f.connectToken }

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func TestConnectMQTTDisconnectsOnFailure(t *testing.T) {
	timedOut := &fakeMQTT{connectToken: pendingToken{}}
	err := connectMQTT(timedOut, "tcp://127.0.0.1:1", time.Millisecond)
	assert.True(t, errors.HasCode(err, ErrConnectFailed))
	assert.True(t, timedOut.disconnected, "a client that never connected keeps retrying unless disconnected")

	refused := &fakeMQTT{connectToken: newDoneToken(io.ErrUnexpectedEOF)}
	err = connectMQTT(refused, "tcp://127.0.0.1:1", time.Second)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, refused.disconnected)

	ok := &fakeMQTT{connectToken: newDoneToken(nil)}
	require.NoError(t, connectMQTT(ok, "tcp://127.0.0.1:1", time.Second))
	assert.False(t, ok.disconnected)
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	client := &fakeMQTT{connected: true}
	s := NewMQTTSinkWithClient(client, "modemtemp/temperature", 0, true)

	r := temperature.Reading{Modem: temperature.Sample{Celsius: 41, Present: true}}
	require.NoError(t, s.Write(context.Background(), Value(41000, r, time.Now())))

	var body map[string]any
	require.NoError(t, json.Unmarshal(client.published["modemtemp/temperature"], &body))
	assert.Equal(t, "41000", body["value"])
	assert.Equal(t, true, body["available"])

	require.NoError(t, s.Close())
	assert.Equal(t, "offline", string(client.published["modemtemp/temperature/status"]))
	assert.True(t, client.disconnected)
}

func TestMQTTSinkNotConnected(t *testing.T) {
	s := NewMQTTSinkWithClient(&fakeMQTT{}, "modemtemp/temperature", 0, true)

	err := s.Write(context.Background(), Unavailable("N/A", time.Now()))
	require.Error(t, err)
	assert.Equal(t, ErrNotConnected, errors.CodeOf(err))
}

func TestMQTTSinkPublishError(t *testing.T) {
	s := NewMQTTSinkWithClient(&fakeMQTT{connected: true, publishErr: io.ErrClosedPipe}, "t", 1, false)

	err := s.Write(context.Background(), Unavailable("N/A", time.Now()))
	require.Error(t, err)
	assert.Equal(t, ErrWriteFailed, errors.CodeOf(err))
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

type fakeRedis struct {
	published map[string]any
	stored    map[string]any
	setErr    error
	closed    bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published[channel] = message
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.stored[key] = value
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSinkPublishesAndStoresLast(t *testing.T) {
	client := &fakeRedis{published: map[string]any{}, stored: map[string]any{}}
	s := newRedisSinkWithClient(client, "modemtemp:temperature")

	require.NoError(t, s.Write(context.Background(), Value(38000, temperature.Reading{}, time.Now())))
	assert.Contains(t, string(client.published["modemtemp:temperature"].([]byte)), `"value":"38000"`)
	assert.Equal(t, client.published["modemtemp:temperature"], client.stored["modemtemp:temperature:last"])

	require.NoError(t, s.Close())
	assert.True(t, client.closed)
	assert.Equal(t, "redis", s.Name())
}

func TestRedisSinkSetFailure(t *testing.T) {
	client := &fakeRedis{published: map[string]any{}, stored: map[string]any{}, setErr: io.EOF}
	s := newRedisSinkWithClient(client, "c")

	err := s.Write(context.Background(), Unavailable("N/A", time.Now()))
	require.Error(t, err)
	assert.Equal(t, ErrWriteFailed, errors.CodeOf(err))
}

type fakeInfluxWriter struct {
	api.WriteAPIBlocking
	lines []string
	err   error
}

func (f *fakeInfluxWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	for _, p := range points {
		f.lines = append(f.lines, write.PointToLineProtocol(p, time.Second))
	}
	return f.err
}

func TestInfluxSinkWritesPoint(t *testing.T) {
	w := &fakeInfluxWriter{}
	s := newInfluxSinkWithWriter(w, "modem_temperature")

	r := temperature.Reading{
		Modem: temperature.Sample{Celsius: 35, Present: true},
		PA:    temperature.Sample{Celsius: 44, Present: true},
	}
	require.NoError(t, s.Write(context.Background(), Value(44000, r, time.Unix(1700000000, 0))))
	require.NoError(t, s.Write(context.Background(), Unavailable("N/A", time.Unix(1700000010, 0))))

	require.Len(t, w.lines, 2)
	assert.Contains(t, w.lines[0], "modem_temperature,sensor=rm520n")
	assert.Contains(t, w.lines[0], "milli_celsius=44000i")
	assert.Contains(t, w.lines[0], "pa_celsius=44i")
	assert.NotContains(t, w.lines[0], "ap_celsius")
	assert.Contains(t, w.lines[1], "available=false")
	assert.NotContains(t, w.lines[1], "milli_celsius")
	assert.NoError(t, s.Close())
}

func TestInfluxSinkWriteError(t *testing.T) {
	s := newInfluxSinkWithWriter(&fakeInfluxWriter{err: io.ErrUnexpectedEOF}, "m")

	err := s.Write(context.Background(), Unavailable("N/A", time.Now()))
	require.Error(t, err)
	assert.Equal(t, ErrWriteFailed, errors.CodeOf(err))
}
