package application

import (
	"context"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/lease"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/metric"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
)

const maxNameLength = 255

// NodeService validates caller input, resolves deadlines against the service
// clock and announces every transition. Atomicity lives in the store.
type NodeService struct {
	store     ports.NodeStore
	publisher ports.EventPublisher
	clock     clock.Clock
	backend   string
}

func NewNodeService(store ports.NodeStore, publisher ports.EventPublisher, clk clock.Clock, backend nltypes.StoreBackend) *NodeService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &NodeService{
		store:     store,
		publisher: publisher,
		clock:     clk,
		backend:   string(backend),
	}
}

// Now is the instant the service treats as current.
func (s *NodeService) Now() time.Time {
	return s.clock.Now()
}

func (s *NodeService) Register(ctx context.Context, name string, attributes map[string]any) (node models.Node, err error) {
	defer s.observe("register", s.clock.Now(), &err)
	if name, err = validateName(name); err != nil {
		return models.Node{}, err
	}
	node, err = s.store.Register(ctx, name, attributes)
	if err != nil {
		return models.Node{}, err
	}
	log.Info().Str("node", name).Msg("node registered")
	s.publish(ctx, models.Event{Type: nltypes.EventRegistered, Node: name})
	return node, nil
}

func (s *NodeService) Remove(ctx context.Context, name string) (err error) {
	defer s.observe("remove", s.clock.Now(), &err)
	if name, err = validateName(name); err != nil {
		return err
	}
	if err = s.store.Remove(ctx, name); err != nil {
		return err
	}
	log.Info().Str("node", name).Msg("node removed")
	s.publish(ctx, models.Event{Type: nltypes.EventRemoved, Node: name})
	return nil
}

func (s *NodeService) Get(ctx context.Context, name string) (node models.Node, err error) {
	defer s.observe("get", s.clock.Now(), &err)
	if name, err = validateName(name); err != nil {
		return models.Node{}, err
	}
	return s.store.Get(ctx, name)
}

func (s *NodeService) List(ctx context.Context) (nodes []models.Node, err error) {
	defer s.observe("list", s.clock.Now(), &err)
	nodes, err = s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	reserved := 0
	for _, node := range nodes {
		if node.IsReserved() {
			reserved++
		}
	}
	metric.ObserveNodeCount(s.backend, reserved, len(nodes)-reserved)
	return nodes, nil
}

// Acquire reserves name for holder until rawDeadline, which is either an
// absolute timestamp or a duration relative to now (see lease.ParseDeadline).
func (s *NodeService) Acquire(ctx context.Context, name, holder, rawDeadline string) (node models.Node, err error) {
	defer s.observe("acquire", s.clock.Now(), &err)
	if name, err = validateName(name); err != nil {
		return models.Node{}, err
	}
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return models.Node{}, nlerrors.InvalidRequest("user is required")
	}
	expiresAt, err := lease.ParseDeadline(rawDeadline, s.clock.Now())
	if err != nil {
		return models.Node{}, err
	}

	node, err = s.store.Acquire(ctx, name, holder, expiresAt)
	if err != nil {
		log.Debug().Err(err).Str("node", name).Str("holder", holder).Msg("acquire rejected")
		return models.Node{}, err
	}
	log.Info().Str("node", name).Str("holder", holder).Time("expires_at", *node.ExpiresAt).Msg("node reserved")
	s.publish(ctx, models.Event{Type: nltypes.EventAcquired, Node: name, Holder: holder, ExpiresAt: node.ExpiresAt})
	return node, nil
}

func (s *NodeService) Release(ctx context.Context, name string) (node models.Node, err error) {
	defer s.observe("release", s.clock.Now(), &err)
	if name, err = validateName(name); err != nil {
		return models.Node{}, err
	}
	node, err = s.store.Release(ctx, name)
	if err != nil {
		return models.Node{}, err
	}
	log.Info().Str("node", name).Msg("node released")
	s.publish(ctx, models.Event{Type: nltypes.EventReleased, Node: name})
	return node, nil
}

func (s *NodeService) Sweep(ctx context.Context) (released int, err error) {
	defer s.observe("sweep", s.clock.Now(), &err)
	released, err = s.store.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Int("released", released).Msg("sweep aborted")
		return released, err
	}
	metric.ObserveSweep(s.backend, released)
	if released > 0 {
		log.Info().Int("released", released).Msg("expired reservations released")
		s.publish(ctx, models.Event{Type: nltypes.EventSwept, Count: released})
	}
	return released, nil
}

// Ping reports store reachability for stores that support it.
func (s *NodeService) Ping(ctx context.Context) error {
	if pinger, ok := s.store.(ports.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (s *NodeService) publish(ctx context.Context, event models.Event) {
	if s.publisher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = s.clock.Now().UTC()
	if _, err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Str("node", event.Node).Msg("failed to publish node event")
	}
}

func (s *NodeService) observe(operation string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = nlerrors.Kind(*err)
	}
	metric.ObserveNodeOperation(s.backend, operation, outcome, s.clock.Now().Sub(start))
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", nlerrors.InvalidRequest("node name is required")
	case len(name) > maxNameLength:
		return "", nlerrors.InvalidRequest("node name is too long")
	case strings.ContainsAny(name, "/\x00"):
		return "", nlerrors.InvalidRequest("node name must not contain '/'")
	}
	return name, nil
}
