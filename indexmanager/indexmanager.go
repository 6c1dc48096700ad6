/*
Package indexmanager makes sure that the index of the endpoint
configurations exists and can be searched, before anything depends on it.

The manager runs a state machine:

	Checking:   create the index when it does not exist, an index that
	            was created concurrently is fine
	Verifying:  search the index, repeated every 200ms until it succeeds
	Recovering: after a failure in Checking, every 3s create the index
	            if necessary and read its recovery status, until all the
	            primary shards are recovered, then continue with Verifying
	Ready:      the ready channel is closed

The manager never gives up, only the cancellation of its context stops it.
*/
package indexmanager

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/logging"
	"github.com/zalando/indexroutes/metrics"
)

const (
	DefaultAvailabilityPollInterval = 200 * time.Millisecond
	DefaultRecoveryPollInterval     = 3 * time.Second
	DefaultReadyPollInterval        = 3 * time.Second
)

//go:embed mappings/endpoint.json
var endpointMapping []byte

// EndpointMapping returns the mapping document of the endpoint index.
func EndpointMapping() []byte {
	return append([]byte(nil), endpointMapping...)
}

// Client is the part of the index client used by the manager.
type Client interface {
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mapping []byte) error
	RecoveryStatus(ctx context.Context, index string) (map[string][]indexclient.ShardRecovery, error)
	Search(ctx context.Context, q indexclient.Query) (*indexclient.Result, error)
}

// State of the manager.
type State int32

const (
	Checking State = iota
	Verifying
	Recovering
	Ready
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Verifying:
		return "verifying"
	case Recovering:
		return "recovering"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

type Options struct {
	// Index managed.
	Index string

	// Mapping used to create the index. Defaults to the mapping of the
	// endpoint index.
	Mapping []byte

	Client  Client
	Log     logging.Logger
	Metrics metrics.Metrics

	// AvailabilityPollInterval defaults to 200ms.
	AvailabilityPollInterval time.Duration

	// RecoveryPollInterval defaults to 3s.
	RecoveryPollInterval time.Duration
}

// Manager of an index. It becomes ready only once.
type Manager struct {
	options Options
	state   atomic.Int32
	ready   chan struct{}
	once    sync.Once
}

// New creates a manager. Call Run to start it.
func New(o Options) *Manager {
	if o.Mapping == nil {
		o.Mapping = EndpointMapping()
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	if o.AvailabilityPollInterval <= 0 {
		o.AvailabilityPollInterval = DefaultAvailabilityPollInterval
	}

	if o.RecoveryPollInterval <= 0 {
		o.RecoveryPollInterval = DefaultRecoveryPollInterval
	}

	o.Log = o.Log.WithFields(map[string]interface{}{"index": o.Index})
	return &Manager{
		options: o,
		ready:   make(chan struct{}),
	}
}

// Ready returns a channel that is closed when the index is ready.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// IsReady tells whether the index is ready.
func (m *Manager) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.options.Log.Debugf("index manager state: %v", s)
}

// Run blocks until the index is ready, or the context is canceled. In
// the latter case, it returns the error of the context.
func (m *Manager) Run(ctx context.Context) error {
	if m.IsReady() {
		return nil
	}

	state := Checking
	for {
		m.setState(state)
		switch state {
		case Checking:
			if err := m.ensureIndex(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				m.options.Log.Errorf("error creating index: %s", indexclient.ErrorMessage(err))
				m.options.Log.Info("attempting to connect to the index service")
				state = Recovering
				continue
			}

			state = Verifying
		case Verifying:
			if err := m.verify(ctx); err != nil {
				return err
			}

			m.setReady()
			return nil
		case Recovering:
			if err := m.recover(ctx); err != nil {
				return err
			}

			state = Verifying
		}
	}
}

func (m *Manager) setReady() {
	m.once.Do(func() {
		m.setState(Ready)
		m.options.Metrics.UpdateGauge(metrics.KeyIndexReady, 1)
		m.options.Log.Info("index is ready")
		close(m.ready)
	})
}

// ensureIndex creates the index when it does not exist.
func (m *Manager) ensureIndex(ctx context.Context) error {
	exists, err := m.options.Client.IndexExists(ctx, m.options.Index)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	err = m.options.Client.CreateIndex(ctx, m.options.Index, m.options.Mapping)
	switch {
	case errors.Is(err, indexclient.ErrIndexAlreadyExists):
		m.options.Log.Debug("index created concurrently")
		return nil
	case err != nil:
		return fmt.Errorf("could not create index %s: %w", m.options.Index, err)
	default:
		m.options.Log.Info("index created")
		return nil
	}
}

func (m *Manager) search(ctx context.Context) error {
	_, err := m.options.Client.Search(ctx, indexclient.Query{Index: m.options.Index, Q: "*"})
	return err
}

// verify searches the index until it succeeds.
func (m *Manager) verify(ctx context.Context) error {
	if err := m.search(ctx); err == nil {
		m.options.Log.Debug("index is available")
		return nil
	}

	ticker := time.NewTicker(m.options.AvailabilityPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.search(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				m.options.Log.Warn("verifying index is open")
				continue
			}

			m.options.Log.Debug("index is available")
			return nil
		}
	}
}

// recover polls the recovery status of the index until all the primary
// shards are recovered.
func (m *Manager) recover(ctx context.Context) error {
	ticker := time.NewTicker(m.options.RecoveryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := m.recovered(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err != nil {
				m.options.Log.Infof("attempting to connect to the index service, error: %s", indexclient.ErrorMessage(err))
				continue
			}

			if done {
				m.options.Log.Info("connection to the index service has been established")
				return nil
			}
		}
	}
}

func (m *Manager) recovered(ctx context.Context) (bool, error) {
	if err := m.ensureIndex(ctx); err != nil {
		return false, err
	}

	status, err := m.options.Client.RecoveryStatus(ctx, m.options.Index)
	if err != nil {
		return false, err
	}

	return indexclient.PrimariesRecovered(status, m.options.Index), nil
}

// Readiness is implemented by Manager.
type Readiness interface {
	IsReady() bool
}

// WaitReady checks readiness on every interval, and returns when ready or
// when the context is canceled.
func WaitReady(ctx context.Context, r Readiness, interval time.Duration) error {
	if r.IsReady() {
		return nil
	}

	if interval <= 0 {
		interval = DefaultReadyPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.IsReady() {
				return nil
			}
		}
	}
}
