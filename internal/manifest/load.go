package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a manifest file at path, expanding `${VAR}` and
// `${VAR:-default}` references against the process environment the same way
// a shell would, then resolving every contract ABI path relative to the
// manifest's own directory so a project can be invoked from anywhere.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	expanded := os.Expand(string(raw), lookupEnv)

	var m Manifest
	if err := yaml.Unmarshal([]byte(expanded), &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	resolveABIPaths(dir, m.Contracts)
	if m.Global != nil {
		resolveABIPaths(dir, m.Global.Contracts)
	}

	if err := validate(&m); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}

	return &m, nil
}

func resolveABIPaths(dir string, contracts []Contract) {
	for i := range contracts {
		for j, p := range contracts[i].ABI {
			if !filepath.IsAbs(p) {
				contracts[i].ABI[j] = filepath.Join(dir, p)
			}
		}
	}
}

// lookupEnv supports both `${NAME}` and `${NAME:-default}` forms. os.Expand
// only calls back with the token between `${` and `}`, so the default-value
// split happens here rather than in the standard library.
func lookupEnv(token string) string {
	for i := 0; i < len(token)-1; i++ {
		if token[i] == ':' && token[i+1] == '-' {
			name, def := token[:i], token[i+2:]
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			return def
		}
	}
	return os.Getenv(token)
}

// validate checks the structural invariants the loader itself is
// responsible for, ahead of the richer cross-contract checks the scheduler
// performs once ABIs are parsed.
func validate(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(m.Networks) == 0 {
		return fmt.Errorf("no networks declared")
	}
	seen := make(map[string]bool, len(m.Networks))
	for _, n := range m.Networks {
		if n.RPC == "" {
			return fmt.Errorf("network %q: missing rpc", n.Name)
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate network %q", n.Name)
		}
		seen[n.Name] = true
	}
	for _, c := range m.Contracts {
		if len(c.ABI) == 0 {
			return fmt.Errorf("contract %q: no abi files", c.Name)
		}
		for _, d := range c.Details {
			if !seen[d.Network] {
				return fmt.Errorf("contract %q: references undeclared network %q", c.Name, d.Network)
			}
			if !d.FilterOnly && d.Factory == nil && len(d.Addresses) == 0 {
				return fmt.Errorf("contract %q: network %q has no addresses and no factory", c.Name, d.Network)
			}
		}
	}
	return nil
}
