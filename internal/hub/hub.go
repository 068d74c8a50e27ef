// Package hub drží připojené odběratele (dashboardy) a rozesílá jim události.
//
// Registr odběratelů a jejich přezdívek vlastní výhradně Hub. Transport
// (WebSocket) s ním mluví jen přes metody Connect, SetAlias, Disconnect
// a z druhé strany odebírá připravené rámce z fronty odběratele.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Názvy událostí na drátě.
const (
	EventUserList       = "user-list"
	EventPrivateMessage = "private-message"
	EventError          = "error"
)

var (
	ErrUnknownSubscriber = errors.New("odběratel není připojen")
	ErrAliasAlreadySet   = errors.New("přezdívka už je nastavená")
	ErrEmptyAlias        = errors.New("přezdívka nesmí být prázdná")
)

// RosterEntry je jedna položka seznamu přihlášených (connectionId -> alias).
type RosterEntry struct {
	ConnectionID string `json:"connectionId"`
	Alias        string `json:"alias"`
}

// DirectMessage je payload soukromé zprávy.
type DirectMessage struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// Observer dostává počty pro metriky. Všechny metody musí být rychlé.
type Observer interface {
	SubscribersChanged(n int)
	FrameDropped()
	Broadcast(event string)
}

type nopObserver struct{}

func (nopObserver) SubscribersChanged(int) {}
func (nopObserver) FrameDropped()          {}
func (nopObserver) Broadcast(string)       {}

// frame je obálka, kterou posíláme klientům: {"event": ..., "data": ...}
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encode(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("nelze serializovat událost %q: %w", event, err)
	}
	return b, nil
}

type Hub struct {
	queueSize int
	logger    *slog.Logger
	obs       Observer

	mu       sync.RWMutex
	subs     map[string]*Subscriber
	aliasSeq uint64
}

// New vytvoří prázdný Hub. queueSize je kapacita odchozí fronty každého odběratele.
func New(queueSize int, logger *slog.Logger, obs Observer) *Hub {
	if queueSize < 1 {
		queueSize = 1
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Hub{
		queueSize: queueSize,
		logger:    logger,
		obs:       obs,
		subs:      make(map[string]*Subscriber),
	}
}

// Connect zaregistruje nové spojení (zatím bez přezdívky).
func (h *Hub) Connect() *Subscriber {
	sub := newSubscriber(uuid.NewString(), h.queueSize)

	h.mu.Lock()
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.obs.SubscribersChanged(n)
	h.logger.Debug("Odběratel připojen", "connection_id", sub.id, "subscribers", n)
	return sub
}

// SetAlias přiřadí přezdívku a rozešle nový seznam všem připojeným.
// Přezdívku lze nastavit jen jednou za spojení.
func (h *Hub) SetAlias(id, alias string) error {
	if alias == "" {
		return ErrEmptyAlias
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	if sub.alias != "" {
		return ErrAliasAlreadySet
	}
	h.aliasSeq++
	sub.alias = alias
	sub.aliasSeq = h.aliasSeq

	h.broadcastRosterLocked()
	return nil
}

// Disconnect odebere spojení z registru. Volat opakovaně je bezpečné.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	sub.close()
	if sub.alias != "" {
		h.broadcastRosterLocked()
	}
	n := len(h.subs)
	h.mu.Unlock()

	h.obs.SubscribersChanged(n)
	h.logger.Debug("Odběratel odpojen", "connection_id", id, "subscribers", n)
}

// BroadcastAll zařadí událost všem, kdo jsou připojení v okamžiku volání.
// Chybu vrací jen tehdy, když nejde payload serializovat.
func (h *Hub) BroadcastAll(event string, payload any) error {
	b, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	for _, sub := range h.subs {
		h.deliver(sub, b)
	}
	h.mu.RUnlock()

	h.obs.Broadcast(event)
	return nil
}

// SendTo pošle událost jednomu spojení. Pokud už spojení neexistuje,
// zpráva se tiše zahodí.
func (h *Hub) SendTo(id, event string, payload any) error {
	b, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	sub, ok := h.subs[id]
	if ok {
		h.deliver(sub, b)
	}
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug("Příjemce už není připojen, zahazuji", "connection_id", id, "event", event)
	}
	return nil
}

// Direct pošle soukromou zprávu. Odesílatel se podepisuje přezdívkou,
// dokud ji nemá, tak ID spojení.
func (h *Hub) Direct(fromID, toID, content string) error {
	h.mu.RLock()
	from, ok := h.subs[fromID]
	var name string
	if ok {
		name = from.alias
	}
	h.mu.RUnlock()

	if !ok {
		return ErrUnknownSubscriber
	}
	if name == "" {
		name = fromID
	}
	return h.SendTo(toID, EventPrivateMessage, DirectMessage{From: name, Content: content})
}

// Roster vrací aktuální seznam přihlášených v pořadí, v jakém si nastavili přezdívku.
func (h *Hub) Roster() []RosterEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rosterLocked()
}

// Count vrací počet připojených spojení.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) rosterLocked() []RosterEntry {
	aliased := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.alias != "" {
			aliased = append(aliased, sub)
		}
	}
	sort.Slice(aliased, func(i, j int) bool { return aliased[i].aliasSeq < aliased[j].aliasSeq })

	out := make([]RosterEntry, len(aliased))
	for i, sub := range aliased {
		out[i] = RosterEntry{ConnectionID: sub.id, Alias: sub.alias}
	}
	return out
}

// broadcastRosterLocked se volá pod zápisovým zámkem, takže seznam i jeho
// doručení do front proběhnou nad stejným stavem registru.
func (h *Hub) broadcastRosterLocked() {
	b, err := encode(EventUserList, h.rosterLocked())
	if err != nil {
		h.logger.Error("Nelze serializovat seznam uživatelů", "error", err)
		return
	}
	for _, sub := range h.subs {
		h.deliver(sub, b)
	}
	h.obs.Broadcast(EventUserList)
}

func (h *Hub) deliver(sub *Subscriber, b []byte) {
	if sub.enqueue(b) {
		h.obs.FrameDropped()
		h.logger.Debug("Fronta odběratele plná, zahozen nejstarší rámec", "connection_id", sub.id)
	}
}
