package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

func contract(id, consumer, provider string) *contracts.HandoffContract {
	return &contracts.HandoffContract{ContractID: id, ConsumerAgent: consumer, ProviderAgent: provider}
}

func TestRegistry(t *testing.T) {
	r := New()

	t.Run("Register and Get agent", func(t *testing.T) {
		require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{Name: "research"}))
		got, err := r.Agent("research")
		require.NoError(t, err)
		assert.Equal(t, contracts.AuthorityReadOnly, got.AuthorityLevel)

		// Last write wins
		require.NoError(t, r.RegisterAgent(&contracts.AgentIdentity{Name: "research", AuthorityLevel: contracts.AuthorityExecute}))
		got, err = r.Agent("research")
		require.NoError(t, err)
		assert.Equal(t, contracts.AuthorityExecute, got.AuthorityLevel)
	})

	t.Run("Agent Not Found", func(t *testing.T) {
		_, err := r.Agent("ghost")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("Contract lookup is directional", func(t *testing.T) {
		_, err := r.RegisterContract(contract("c1", "a", "b"))
		require.NoError(t, err)

		got, err := r.ContractFor("a", "b")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ContractID)

		_, err = r.ContractFor("b", "a")
		assert.ErrorIs(t, err, ErrContractNotFound)
	})

	t.Run("New contract replaces pair", func(t *testing.T) {
		_, err := r.RegisterContract(contract("c2", "a", "b"))
		require.NoError(t, err)

		got, err := r.ContractFor("a", "b")
		require.NoError(t, err)
		assert.Equal(t, "c2", got.ContractID)

		_, err = r.Contract("c1")
		assert.ErrorIs(t, err, ErrContractNotFound)
	})

	t.Run("Re-registering an id under a new pair drops the old pair", func(t *testing.T) {
		_, err := r.RegisterContract(contract("c2", "a", "c"))
		require.NoError(t, err)
		_, err = r.ContractFor("a", "b")
		assert.ErrorIs(t, err, ErrContractNotFound)
	})

	t.Run("Generated id", func(t *testing.T) {
		id, err := r.RegisterContract(contract("", "x", "y"))
		require.NoError(t, err)
		assert.Len(t, id, 8)
	})

	t.Run("Invalid contract rejected at registration", func(t *testing.T) {
		c := contract("bad", "a", "b")
		c.AllowedActions = []string{"buy"}
		c.ProhibitedActions = []string{"buy"}
		_, err := r.RegisterContract(c)
		assert.ErrorIs(t, err, contracts.ErrInvalidContract)
	})
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := New()
	in := contract("c1", "a", "b")
	in.AllowedActions = []string{"recommend"}
	_, err := r.RegisterContract(in)
	require.NoError(t, err)

	in.AllowedActions[0] = "mutated"
	got, _ := r.ContractFor("a", "b")
	assert.Equal(t, "recommend", got.AllowedActions[0])

	got.AllowedActions[0] = "mutated"
	again, _ := r.ContractFor("a", "b")
	assert.Equal(t, "recommend", again.AllowedActions[0])
}

func TestCoverageMatrix(t *testing.T) {
	r := New()
	_, err := r.RegisterContract(contract("ab", "A", "B"))
	require.NoError(t, err)
	_, err = r.RegisterContract(contract("bc", "B", "C"))
	require.NoError(t, err)

	m := r.CoverageMatrix()
	assert.Equal(t, CoverageCovered, m["A"]["B"])
	assert.Equal(t, CoverageCovered, m["B"]["C"])
	assert.Equal(t, CoverageUncovered, m["A"]["C"])
	assert.Equal(t, CoverageUncovered, m["B"]["A"])
	assert.Equal(t, CoverageSelf, m["A"]["A"])
	assert.Len(t, m, 3)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.RegisterContract(contract("c", "a", "b"))
		}()
		go func() {
			defer wg.Done()
			_, _ = r.ContractFor("a", "b")
			_ = r.CoverageMatrix()
		}()
	}
	wg.Wait()

	got, err := r.ContractFor("a", "b")
	require.NoError(t, err)
	assert.Equal(t, "c", got.ContractID)
}
