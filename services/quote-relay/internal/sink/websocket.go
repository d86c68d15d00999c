package sink

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/metrics"
)

// HubConfig: параметры websocket-рассылки.
type HubConfig struct {
	ClientBuffer int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c *HubConfig) applyDefaults() {
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Hub рассылает JSON-конверты подключённым websocket-клиентам.
//
// Клиент может сузить поток параметрами запроса:
// /ws?symbols=AAPL,MSFT&kinds=quote,trade. Медленному клиенту сообщения
// не ставятся в очередь сверх ClientBuffer, лишнее отбрасывается.
type Hub struct {
	cfg      HubConfig
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]struct{} // пусто: все
	kinds   event.Kind          // 0: все
	once    sync.Once
	done    chan struct{}
}

func NewHub(cfg HubConfig, log *logger.Logger) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg: cfg,
		log: log.Named("ws-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// источники ограничивает CORS-middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Clients: число подключённых клиентов.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP апгрейдит соединение и регистрирует клиента.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKindsParam(r.URL.Query().Get("kinds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, h.cfg.ClientBuffer),
		symbols: parseSymbolsParam(r.URL.Query().Get("symbols")),
		kinds:   kinds,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()
	metrics.WSClients.Inc()
	h.log.WithContext(r.Context()).Info("ws client connected", zap.String("client_id", c.id))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) Write(_ context.Context, rec Record) error {
	var payload []byte
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(rec.Event) {
			continue
		}
		if payload == nil {
			b, err := EncodeJSON(rec)
			if err != nil {
				return err
			}
			payload = b
		}
		select {
		case c.send <- payload:
		default:
			metrics.WSDrops.Inc()
		}
	}
	return nil
}

// Close отключает всех клиентов и ждёт завершения их горутин.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
	h.wg.Wait()
	return nil
}

func (h *Hub) drop(c *wsClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		metrics.WSClients.Dec()
		close(c.done)
	})
}

func (h *Hub) writePump(c *wsClient) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		h.log.Debug("ws client disconnected", zap.String("client_id", c.id))
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump нужен только для control-фреймов и обнаружения закрытия.
func (h *Hub) readPump(c *wsClient) {
	defer h.wg.Done()
	defer h.drop(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) wants(ev event.Event) bool {
	if c.kinds != 0 && !c.kinds.Has(ev.Kind()) {
		return false
	}
	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[ev.EventSymbol()]
	return ok
}

func parseSymbolsParam(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out[sym] = struct{}{}
		}
	}
	return out
}

func parseKindsParam(s string) (event.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return event.ParseKinds(s)
}
