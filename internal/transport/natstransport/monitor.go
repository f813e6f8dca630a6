package natstransport

import (
	"sync"

	ccnats "github.com/nodefabric/shadowd/pkg/nats"
)

// reconnectSignal is a process-wide connectivity hint: the underlying
// NATS client's reconnect handler (pkg/nats.NewClient) feeds it, and
// every node's Monitor fans the signal out to its own handler.
type reconnectSignal struct {
	mu       sync.Mutex
	handlers map[*Monitor]func()
}

func newReconnectSignal() *reconnectSignal {
	return &reconnectSignal{handlers: make(map[*Monitor]func())}
}

func (s *reconnectSignal) fire() {
	s.mu.Lock()
	handlers := make([]func(), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (s *reconnectSignal) register(m *Monitor, handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[m] = handler
}

func (s *reconnectSignal) unregister(m *Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, m)
}

// Monitor implements shadow.ConnectivityMonitor on top of a shared
// reconnect signal, so one broker reconnect event fans out as a hint
// to every device waiting on it.
type Monitor struct {
	signal *reconnectSignal
}

// NewMonitorSource returns a signal source; call NewMonitor once per
// device against the same source so a single NATS reconnect wakes
// every backed-off device at once.
func NewMonitorSource() *reconnectSignal { return newReconnectSignal() }

// NewMonitorSourceFromClient returns a signal source fed by client's
// real reconnect events (pkg/nats.Client.AddReconnectHook), so the
// fleet's devices learn about routability changes from the one shared
// NATS connection instead of requiring a manual Fire() in production.
func NewMonitorSourceFromClient(client *ccnats.Client) *reconnectSignal {
	source := newReconnectSignal()
	client.AddReconnectHook(source.fire)
	return source
}

// NewMonitor returns a Monitor fed by source.
func NewMonitor(source *reconnectSignal) *Monitor {
	return &Monitor{signal: source}
}

// Start registers handler to fire on the next reconnect signal.
func (m *Monitor) Start(handler func()) {
	m.signal.register(m, handler)
}

// Stop deregisters this monitor.
func (m *Monitor) Stop() {
	m.signal.unregister(m)
}

// Fire manually triggers the signal, as tests do; production wiring
// feeds the same signal through NewMonitorSourceFromClient's reconnect
// hook instead.
func (s *reconnectSignal) Fire() { s.fire() }
