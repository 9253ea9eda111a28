package fingerprint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultKeepPrefix is the number of leading manufacturer data bytes
// preserved when no vendor rule matches. The head of the payload usually
// carries frame type and static product identifiers; the tail carries
// rotating state.
const defaultKeepPrefix = 4

// Masker reduces manufacturer-specific data to its stable portion before
// fingerprint hashing.
type Masker interface {
	// Mask returns the masked form of data for the given company
	// identifier. The returned slice has the same length as the input,
	// with volatile byte positions zeroed.
	Mask(companyID int, data []byte) []byte
}

// ByteRange selects a contiguous run of payload bytes to preserve.
type ByteRange struct {
	Start  int `yaml:"start"`
	Length int `yaml:"length"`
}

// Rule preserves the listed byte ranges of a vendor's manufacturer data
// and zeroes everything else.
type Rule struct {
	CompanyID int         `yaml:"company_id"`
	Keep      []ByteRange `yaml:"keep"`
}

// ruleFile is the YAML layout of a vendor mask rule file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Table is the vendor mask table. Unknown vendors fall back to the
// default prefix rule.
type Table struct {
	rules map[int][]ByteRange
}

// Bluetooth SIG company identifiers with built-in rules.
const (
	companyApple     = 0x004C
	companyMicrosoft = 0x0006
)

// NewTable returns a mask table with built-in vendor rules.
//
// Apple and Microsoft payloads carry their frame type in the first two
// bytes with rotating identifiers after; only the type bytes are stable
// across broadcasts.
func NewTable() *Table {
	t := &Table{rules: make(map[int][]ByteRange)}
	t.rules[companyApple] = []ByteRange{{Start: 0, Length: 2}}
	t.rules[companyMicrosoft] = []ByteRange{{Start: 0, Length: 2}}
	return t
}

// LoadTable returns a mask table combining the built-in rules with the
// rules from a YAML file. File rules override built-ins for the same
// company identifier.
//
// File layout:
//
//	rules:
//	  - company_id: 76
//	    keep:
//	      - start: 0
//	        length: 2
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mask rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing mask rules: %w", err)
	}

	t := NewTable()
	for _, rule := range file.Rules {
		if rule.CompanyID < 0 {
			return nil, fmt.Errorf("mask rule has negative company_id %d", rule.CompanyID)
		}
		for _, r := range rule.Keep {
			if r.Start < 0 || r.Length < 0 {
				return nil, fmt.Errorf("mask rule for company %d has negative byte range", rule.CompanyID)
			}
		}
		t.rules[rule.CompanyID] = rule.Keep
	}
	return t, nil
}

// Mask applies the vendor rule for companyID, or the default prefix rule
// when no vendor rule exists. The output preserves the input length with
// volatile positions zeroed; nil input yields nil.
func (t *Table) Mask(companyID int, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}

	out := make([]byte, len(data))

	ranges, ok := t.rules[companyID]
	if !ok {
		ranges = []ByteRange{{Start: 0, Length: defaultKeepPrefix}}
	}

	for _, r := range ranges {
		start := r.Start
		if start >= len(data) {
			continue
		}
		end := start + r.Length
		if end > len(data) {
			end = len(data)
		}
		copy(out[start:end], data[start:end])
	}

	return out
}
