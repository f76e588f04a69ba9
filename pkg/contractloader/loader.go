// Package contractloader reads agent and contract definitions from YAML or
// JSON documents, validates them against an embedded JSON Schema and
// registers them.
package contractloader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

//go:embed contracts.schema.json
var documentSchema string

const schemaURL = "https://failsafe.schemas.local/contracts.schema.json"

var ErrInvalidDocument = errors.New("invalid contract document")

// Document is the on-disk form: a list of agents and a list of contracts.
type Document struct {
	Agents    []*contracts.AgentIdentity   `json:"agents,omitempty" yaml:"agents,omitempty"`
	Contracts []*contracts.HandoffContract `json:"contracts,omitempty" yaml:"contracts,omitempty"`
}

// Registrar is the registry surface the loader writes to.
type Registrar interface {
	RegisterAgent(a *contracts.AgentIdentity) error
	RegisterContract(c *contracts.HandoffContract) (string, error)
}

type Loader struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

type Option func(*Loader)

func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

func New(opts ...Option) (*Loader, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("contract schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("contract schema compile failed: %w", err)
	}
	l := &Loader{
		schema: compiled,
		logger: slog.Default().With("component", "contractloader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Parse decodes one document. name selects the format by extension and
// labels errors; anything not ending in .json is read as YAML.
func (l *Loader) Parse(name string, raw []byte) (*Document, error) {
	var generic any
	if strings.EqualFold(filepath.Ext(name), ".json") {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
		}
	} else if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	if generic == nil {
		return &Document{}, nil
	}

	// Round-trip through JSON so YAML and JSON documents validate and
	// decode identically.
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(canonical))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	if err := l.schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}

	var doc Document
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	return &doc, nil
}

func (l *Loader) LoadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return l.Parse(path, raw)
}

func isDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadDir reads every document in dir (not recursive) in name order and
// merges them. Agents with the same name: the later file wins. Contracts
// for the same consumer/provider pair: the highest version wins.
func (l *Loader) LoadDir(dir string) (*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("contractloader: read dir %s: %w", dir, err)
	}

	var docs []*Document
	for _, entry := range entries {
		if entry.IsDir() || !isDocument(entry.Name()) {
			continue
		}
		doc, err := l.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("contractloader: load %s: %w", entry.Name(), err)
		}
		docs = append(docs, doc)
	}
	return l.Merge(docs...)
}

// Merge combines documents in order.
func (l *Loader) Merge(docs ...*Document) (*Document, error) {
	agents := map[string]*contracts.AgentIdentity{}
	var agentOrder []string
	type pair struct{ consumer, provider string }
	best := map[pair]*contracts.HandoffContract{}
	bestVersion := map[pair]*semver.Version{}
	var pairOrder []pair

	for _, doc := range docs {
		for _, a := range doc.Agents {
			if _, seen := agents[a.Name]; !seen {
				agentOrder = append(agentOrder, a.Name)
			}
			agents[a.Name] = a
		}
		for _, c := range doc.Contracts {
			v, err := contractVersion(c)
			if err != nil {
				return nil, err
			}
			key := pair{c.ConsumerAgent, c.ProviderAgent}
			prev, seen := bestVersion[key]
			if !seen {
				pairOrder = append(pairOrder, key)
			} else if !v.GreaterThan(prev) {
				l.logger.Warn("superseded contract ignored",
					"contract_id", c.ContractID, "version", v.String(), "kept", best[key].ContractID)
				continue
			}
			best[key] = c
			bestVersion[key] = v
		}
	}

	out := &Document{}
	for _, name := range agentOrder {
		out.Agents = append(out.Agents, agents[name])
	}
	for _, key := range pairOrder {
		out.Contracts = append(out.Contracts, best[key])
	}
	return out, nil
}

func contractVersion(c *contracts.HandoffContract) (*semver.Version, error) {
	if c.Version == "" {
		return semver.MustParse("0.0.0"), nil
	}
	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: contract %q: version %q: %v", contracts.ErrInvalidContract, c.ContractID, c.Version, err)
	}
	return v, nil
}

// Register writes doc into r, agents first. It stops at the first
// rejected definition.
func (l *Loader) Register(r Registrar, doc *Document) error {
	for _, a := range doc.Agents {
		if err := r.RegisterAgent(a); err != nil {
			return err
		}
	}
	for _, c := range doc.Contracts {
		if _, err := r.RegisterContract(c); err != nil {
			return err
		}
	}
	l.logger.Info("contracts loaded", "agents", len(doc.Agents), "contracts", len(doc.Contracts))
	return nil
}

// LoadDirInto loads dir and registers the result in r.
func (l *Loader) LoadDirInto(r Registrar, dir string) (*Document, error) {
	doc, err := l.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return doc, l.Register(r, doc)
}
