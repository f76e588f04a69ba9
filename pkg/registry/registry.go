package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrContractNotFound = errors.New("contract not found")
)

// Coverage matrix cell values.
const (
	CoverageSelf      = "self"
	CoverageCovered   = "covered"
	CoverageUncovered = "uncovered"
)

type pair struct {
	consumer, provider string
}

// Registry is the source of truth for agent identities and handoff contracts.
// It is safe for concurrent use; registrations serialize against readers.
// Everything it stores or returns is a private copy.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*contracts.AgentIdentity
	contracts map[string]*contracts.HandoffContract
	pairs     map[pair]string
	logger    *slog.Logger
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		agents:    make(map[string]*contracts.AgentIdentity),
		contracts: make(map[string]*contracts.HandoffContract),
		pairs:     make(map[pair]string),
		logger:    slog.Default().With("component", "registry"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterAgent adds or replaces an agent by name.
func (r *Registry) RegisterAgent(agent *contracts.AgentIdentity) error {
	if agent == nil {
		return fmt.Errorf("%w: nil agent", contracts.ErrInvalidAgent)
	}
	if err := agent.Validate(); err != nil {
		return err
	}
	a := agent.Clone()
	a.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name] = a
	r.logger.Debug("agent registered", "agent", a.Name, "authority", a.AuthorityLevel)
	return nil
}

// RegisterContract validates the contract and makes it the active contract
// for its (consumer, provider) pair, replacing any previous one. A contract
// without an id is assigned a short generated id, which is returned.
func (r *Registry) RegisterContract(contract *contracts.HandoffContract) (string, error) {
	if contract == nil {
		return "", fmt.Errorf("%w: nil contract", contracts.ErrInvalidContract)
	}
	c := contract.Clone()
	if c.ContractID == "" {
		c.ContractID = uuid.NewString()[:8]
	}
	c.Normalize()
	if err := c.Compile(); err != nil {
		return "", err
	}

	key := pair{c.ConsumerAgent, c.ProviderAgent}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prevID, ok := r.pairs[key]; ok && prevID != c.ContractID {
		delete(r.contracts, prevID)
		r.logger.Info("contract replaced", "pair", c.ConsumerAgent+"->"+c.ProviderAgent, "old", prevID, "new", c.ContractID)
	}
	if prev, ok := r.contracts[c.ContractID]; ok {
		delete(r.pairs, pair{prev.ConsumerAgent, prev.ProviderAgent})
	}
	r.contracts[c.ContractID] = c
	r.pairs[key] = c.ContractID
	r.logger.Debug("contract registered", "contract_id", c.ContractID, "consumer", c.ConsumerAgent, "provider", c.ProviderAgent)
	return c.ContractID, nil
}

// ContractFor returns the active contract governing consumer -> provider.
func (r *Registry) ContractFor(consumer, provider string) (*contracts.HandoffContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pairs[pair{consumer, provider}]
	if !ok {
		return nil, ErrContractNotFound
	}
	return r.contracts[id].Clone(), nil
}

func (r *Registry) Contract(id string) (*contracts.HandoffContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	return c.Clone(), nil
}

func (r *Registry) Agent(name string) (*contracts.AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a.Clone(), nil
}

// Agents lists registered agents sorted by name.
func (r *Registry) Agents() []*contracts.AgentIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*contracts.AgentIdentity, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Contracts lists active contracts sorted by id.
func (r *Registry) Contracts() []*contracts.HandoffContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*contracts.HandoffContract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out
}

// CoverageMatrix reports, for every ordered pair of agents named in any
// contract, whether a contract governs that direction. The matrix is not
// symmetric.
func (r *Registry) CoverageMatrix() map[string]map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make(map[string]struct{})
	for p := range r.pairs {
		names[p.consumer] = struct{}{}
		names[p.provider] = struct{}{}
	}

	matrix := make(map[string]map[string]string, len(names))
	for a := range names {
		row := make(map[string]string, len(names))
		for b := range names {
			switch _, covered := r.pairs[pair{a, b}]; {
			case a == b:
				row[b] = CoverageSelf
			case covered:
				row[b] = CoverageCovered
			default:
				row[b] = CoverageUncovered
			}
		}
		matrix[a] = row
	}
	return matrix
}
