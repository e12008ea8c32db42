package agent

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/diligence-cli/internal/model"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// DomainPrompt is the persona and task for one domain worker.
type DomainPrompt struct {
	Role string `yaml:"role"`
	Task string `yaml:"task"`
}

// SynthesisPrompt holds the synthesis worker's prompts.
type SynthesisPrompt struct {
	Role      string `yaml:"role"`
	Reason    string `yaml:"reason"`
	Structure string `yaml:"structure"`
}

// Catalog is the full prompt set.
type Catalog struct {
	Domains   map[model.AgentID]DomainPrompt `yaml:"domains"`
	Reason    string                         `yaml:"reason"`
	Final     string                         `yaml:"final"`
	Structure string                         `yaml:"structure"`
	Synthesis SynthesisPrompt                `yaml:"synthesis"`
}

// LoadCatalog reads the prompt catalog from path, or the embedded default
// when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "agent: read prompts %s", path)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML prompt catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "agent: parse prompts")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog. It panics if the embedded
// file is malformed.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultPrompts)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) validate() error {
	for _, id := range model.AgentIDs {
		p, ok := c.Domains[id]
		if !ok || strings.TrimSpace(p.Role) == "" || strings.TrimSpace(p.Task) == "" {
			return eris.Errorf("agent: prompts missing role or task for %s", id)
		}
	}
	required := map[string]string{
		"reason":              c.Reason,
		"final":               c.Final,
		"structure":           c.Structure,
		"synthesis.role":      c.Synthesis.Role,
		"synthesis.reason":    c.Synthesis.Reason,
		"synthesis.structure": c.Synthesis.Structure,
	}
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			return eris.Errorf("agent: prompts missing %s", key)
		}
	}
	return nil
}
