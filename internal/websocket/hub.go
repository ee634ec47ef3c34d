// Package websocket раздаёт поток событий и алертов подключённым клиентам.
package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Буферы JSON переиспользуются между Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

const broadcastBufferSize = 256

// Hub управляет подключёнными клиентами и рассылает им сообщения.
//
// Медленный клиент, у которого переполнен буфер отправки, отключается;
// при переполнении очереди рассылки сообщение отбрасывается (DroppedMessages).
// Поток - best effort: пропущенное клиент может добрать через API чтения.
//
// Использование:
//
//	hub := NewHub(logger)
//	go hub.Run()
//	defer hub.Stop()
//	hub.BroadcastEvent(ev)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64

	mu     sync.RWMutex
	logger *utils.Logger
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run главный цикл; возвращается после Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(n))
			h.logger.Debug("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			// список копируется под коротким RLock, отправка без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("dropping slow client")
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	metrics.WSClients.Set(0)
}

// Stop останавливает Run и закрывает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки без блокировки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("encode broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastEvent отправляет событие эскроу
func (h *Hub) BroadcastEvent(ev *models.NormalizedEvent) {
	h.Broadcast(NewEventMessage(ev))
}

// BroadcastAlert отправляет алерт
func (h *Hub) BroadcastAlert(a *models.AlertEvent) {
	h.Broadcast(NewAlertMessage(a))
}

// ClientCount количество подключённых клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages сообщения, не попавшие в очередь рассылки
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
