package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"kanban/internal/model"
	"kanban/internal/queue"
)

// memStore is an in-memory Store with the same guarded-write semantics as the repository.
type memStore struct {
	mu          sync.Mutex
	cards       map[string]model.Card
	loops       map[string]model.Loop
	transitions []model.CardTransition
	applyErr    error
}

func newMemStore() *memStore {
	return &memStore{cards: map[string]model.Card{}, loops: map[string]model.Loop{}}
}

func (m *memStore) addLoop(l model.Loop) model.Loop {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.OrderQuantity == 0 {
		l.OrderQuantity = 10
	}
	l.IsActive = true
	m.loops[l.ID] = l
	return l
}

func (m *memStore) addCard(c model.Card) model.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CurrentStage == "" {
		c.CurrentStage = model.StageCreated
	}
	m.cards[c.ID] = c
	return c
}

func (m *memStore) card(id string) model.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cards[id]
}

func (m *memStore) transitionsFor(cardID string) []model.CardTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CardTransition
	for _, t := range m.transitions {
		if t.CardID == cardID {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) GetCard(_ context.Context, tenantID, cardID string) (*CardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok || c.TenantID != tenantID {
		return nil, ErrCardNotFound
	}
	return &CardSnapshot{Card: c, Loop: m.loops[c.LoopID]}, nil
}

func (m *memStore) FindCard(_ context.Context, cardID string) (*CardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	return &CardSnapshot{Card: c, Loop: m.loops[c.LoopID]}, nil
}

func (m *memStore) FindTransitionByIdempotencyKey(_ context.Context, tenantID, cardID, key string) (*model.CardTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transitions {
		if t.TenantID == tenantID && t.CardID == cardID && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			tr := t
			return &tr, nil
		}
	}
	return nil, nil
}

func (m *memStore) ApplyTransition(_ context.Context, w TransitionWrite) (*model.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	tr := w.Transition
	c, ok := m.cards[tr.CardID]
	if !ok || c.TenantID != tr.TenantID || c.CurrentStage != w.ExpectedStage || !c.IsActive {
		return nil, ErrStageChanged
	}
	if tr.IdempotencyKey != nil {
		for _, t := range m.transitions {
			if t.TenantID == tr.TenantID && t.CardID == tr.CardID && t.IdempotencyKey != nil && *t.IdempotencyKey == *tr.IdempotencyKey {
				return nil, ErrStageChanged
			}
		}
	}

	entered := tr.TransitionedAt
	c.CurrentStage = tr.ToStage
	c.CurrentStageEnteredAt = &entered
	c.UpdatedAt = tr.TransitionedAt
	if w.LinkedOrderID != nil {
		id := *w.LinkedOrderID
		switch w.LinkedOrderType {
		case model.OrderPurchase:
			c.LinkedPurchaseOrderID = &id
		case model.OrderWork:
			c.LinkedWorkOrderID = &id
		case model.OrderTransfer:
			c.LinkedTransferOrderID = &id
		}
	}
	if w.CompleteCycle {
		c.CompletedCycles++
		c.LinkedPurchaseOrderID, c.LinkedWorkOrderID, c.LinkedTransferOrderID = nil, nil, nil
	}
	m.cards[c.ID] = c
	m.transitions = append(m.transitions, *tr)
	return &c, nil
}

func (m *memStore) FindCycleStart(_ context.Context, tenantID, cardID string, cycle int) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transitions {
		if t.TenantID == tenantID && t.CardID == cardID && t.CycleNumber == cycle && t.ToStage == model.StageTriggered {
			at := t.TransitionedAt
			return &at, nil
		}
	}
	return nil, nil
}

// recordingPublisher keeps every published event. failTypes makes Publish fail for those types.
type recordingPublisher struct {
	mu        sync.Mutex
	events    []queue.Event
	failTypes map[queue.EventType]bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTypes[ev.Type] {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) ofType(t queue.EventType) []queue.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []queue.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

// fixture seeds one loop of the given type with one card in stage.
func fixture(loopType model.LoopType, stage model.Stage) (*memStore, model.Card) {
	s := newMemStore()
	s.addLoop(model.Loop{ID: "loop-1", TenantID: tenantA, PartID: "part-1", FacilityID: "fac-1", LoopType: loopType, MinQuantity: 5})
	c := s.addCard(model.Card{ID: "card-1", TenantID: tenantA, LoopID: "loop-1", CardNumber: 1, CurrentStage: stage, IsActive: true})
	return s, c
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
