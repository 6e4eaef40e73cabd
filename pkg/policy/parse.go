package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape: either a single policy at the top level
// or a list under "policies".
type document struct {
	Policies []*Policy `yaml:"policies,omitempty"`
	Policy   `yaml:",inline"`
}

// Parse decodes policies from YAML. A document holding a single policy
// without a name takes fallbackName. Unknown keys are rejected. Parse does
// not validate; call Validate on each result.
func Parse(data []byte, fallbackName string) ([]*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty policy document")
		}
		return nil, err
	}

	if len(doc.Policies) > 0 {
		if doc.Policy.Name != "" || doc.Policy.Routing != nil {
			return nil, fmt.Errorf("document mixes a top-level policy with a policies list")
		}
		for i, p := range doc.Policies {
			if p == nil {
				return nil, fmt.Errorf("policies[%d] is empty", i)
			}
		}
		return doc.Policies, nil
	}

	p := doc.Policy
	if p.Name == "" {
		p.Name = fallbackName
	}
	return []*Policy{&p}, nil
}

// Marshal encodes a policy as YAML.
func Marshal(p *Policy) ([]byte, error) {
	return yaml.Marshal(p)
}
