package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/serviapp/escrow-backend/internal/goroutine"
	"github.com/serviapp/escrow-backend/internal/logger"
	"github.com/serviapp/escrow-backend/internal/models"
)

// Hub управляет всеми WebSocket клиентами и рассылает сторонам сделки
// события переходов. Рассылка строго после фиксации перехода в БД и
// ни на что не влияет: потерянное сообщение не теряет состояние.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

// NewHub создаёт новый хаб.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
	}
}

// Run запускает главный цикл хаба.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

type transitionPayload struct {
	JobID      uuid.UUID       `json:"job_id"`
	FromState  models.JobState `json:"from_state"`
	ToState    models.JobState `json:"to_state"`
	StateLabel string          `json:"state_label"`
	ActorRole  string          `json:"actor_role"`
}

// NotifyTransition рассылает событие перехода обеим сторонам сделки.
func (h *Hub) NotifyTransition(job *models.Job, from models.JobState, actorRole string) {
	payload := map[string]any{
		"type": "job.transition",
		"data": transitionPayload{
			JobID:      job.ID,
			FromState:  from,
			ToState:    job.State,
			StateLabel: job.State.DisplayLabel(),
			ActorRole:  actorRole,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Log.WithError(err).Error("ws: не удалось сериализовать событие")
		return
	}

	h.broadcast <- message{userID: job.ClientID, payload: raw}
	h.broadcast <- message{userID: job.ProfessionalID, payload: raw}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Медленный клиент: отключаем, чтобы не копить backlog.
			goroutine.SafeGo(client.Close)
		}
	}
}
