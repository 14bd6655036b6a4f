package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/vcontrold-bridge/internal/audit"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/history"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

const testDeviceID = "20CB"

// gasReplies answers every command a gas system is polled with.
func gasReplies() map[string]string {
	return map[string]string{
		"getTempA":                  "5.3 Grad Celsius",
		"getTempWWist":              "48.1 Grad Celsius",
		"getTempWWsoll":             "50.000000 Grad Celsius",
		"getTempStp2":               "47.2 Grad Celsius",
		"getBrennerStatus":          "0%",
		"getBrennerStarts":          "1234.000000",
		"getBrennerStunden1":        "567.500000",
		"getPumpeStatusIntern":      "1",
		"getBetriebArtM1":           "H+WW",
		"getTempRaumtemperaturA1M1": "20.5 Grad Celsius",
		"getTempRaumNorSollM1":      "21.000000 Grad Celsius",
		"getBetriebPartyM1":         "0",
		"getTempPartyM1":            "22.000000 Grad Celsius",
		"getBetriebSparM1":          "0",
		"getTempRaumRedSollM1":      "16.000000 Grad Celsius",
		"getPumpeStatusZirku":       "0",
		"getTempRaum":               "20.8 Grad Celsius",
	}
}

// fakeDevice implements Device from a reply map.
type fakeDevice struct {
	mu        sync.Mutex
	replies   map[string]string
	failRead  map[string]error
	writeErr  error
	writes    [][2]string
	reads     map[string]int
	id        string
	idErr     error
	connected bool
}

func newFakeDevice(replies map[string]string) *fakeDevice {
	return &fakeDevice{
		replies:   replies,
		failRead:  map[string]error{},
		reads:     map[string]int{},
		id:        testDeviceID,
		connected: true,
	}
}

func (f *fakeDevice) Read(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[key]++
	if err, ok := f.failRead[key]; ok {
		return "", err
	}
	if err, ok := f.failRead["*"]; ok {
		return "", err
	}
	body, ok := f.replies[key]
	if !ok {
		return "", vcontrold.ErrFrameDesync
	}
	return body, nil
}

func (f *fakeDevice) ReadInt(ctx context.Context, key string) (int, error) {
	body, err := f.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseInt(body)
}

func (f *fakeDevice) ReadFloat(ctx context.Context, key string) (float64, error) {
	body, err := f.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseFloat(body)
}

func (f *fakeDevice) Write(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, [2]string{key, value})
	if key == heating.CmdSetOperating {
		f.replies[heating.CmdOperatingMode] = value
	}
	return nil
}

func (f *fakeDevice) ID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.idErr
}

func (f *fakeDevice) Addr() string { return "127.0.0.1:3002" }

func (f *fakeDevice) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDevice) Stats() vcontrold.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for _, n := range f.reads {
		total += uint64(n)
	}
	return vcontrold.Stats{CommandsTotal: total, Connected: f.connected}
}

func (f *fakeDevice) set(key, body string) {
	f.mu.Lock()
	f.replies[key] = body
	f.mu.Unlock()
}

func (f *fakeDevice) fail(key string, err error) {
	f.mu.Lock()
	f.failRead[key] = err
	f.mu.Unlock()
}

func (f *fakeDevice) readCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[key]
}

func (f *fakeDevice) totalReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.reads {
		n += c
	}
	return n
}

func (f *fakeDevice) written() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the messages published on topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

func (m *MockMQTTClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// SimulateMessage delivers a message to the handler whose filter matches
// topic. Only trailing # wildcards are supported.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.handlers {
		if filter == topic || strings.HasSuffix(filter, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(filter, "#")) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(topic, payload)
}

// memoryInventory implements InventoryStore.
type memoryInventory struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryInventory() *memoryInventory {
	return &memoryInventory{values: map[string]string{}}
}

func (m *memoryInventory) DeviceInfo(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", history.ErrNotFound
	}
	return v, nil
}

func (m *memoryInventory) SetDeviceInfo(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// memoryCommandLog implements CommandLog.
type memoryCommandLog struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (m *memoryCommandLog) Record(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryCommandLog) Entries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func decodeJSON[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("json.Unmarshal(%s) error = %v", payload, err)
	}
	return v
}

func newTestBridge(t *testing.T, dev *fakeDevice, client *MockMQTTClient, opts Options) *Bridge {
	t.Helper()
	opts.Device = dev
	if client != nil {
		opts.MQTT = client
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics("vcontrold", "homeassistant")
	}
	if opts.HeatingType == "" {
		opts.HeatingType = heating.TypeGas
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

var (
	_ Device         = (*vcontrold.Device)(nil)
	_ MQTTClient     = (*mqtt.Client)(nil)
	_ InventoryStore = (*history.Repository)(nil)
	_ CommandLog     = (*audit.SQLiteRepository)(nil)
)
