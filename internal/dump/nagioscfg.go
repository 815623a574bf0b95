package dump

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// NagiosConfig is a parsed nagios.cfg. Keys that appear more than once
// (cfg_file, broker_module) keep every value in file order.
type NagiosConfig struct {
	values map[string][]string
}

// ReadNagiosConfig parses the key=value main configuration file.
func ReadNagiosConfig(path string) (*NagiosConfig, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("open nagios config: %w", err)
	}
	defer f.Close()

	cfg := &NagiosConfig{values: make(map[string][]string)}
	sc := bufio.NewScanner(f)
	sc.Split(scanAnyLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		cfg.values[k] = append(cfg.values[k], strings.TrimSpace(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read nagios config: %w", err)
	}
	return cfg, nil
}

// Get returns the last value set for key.
func (c *NagiosConfig) Get(key string) string {
	vs := c.values[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1]
}

// All returns every value set for key.
func (c *NagiosConfig) All(key string) []string {
	return c.values[key]
}

// StatusFile returns the status log the core writes, if configured.
func (c *NagiosConfig) StatusFile() string {
	if v := c.Get("status_file"); v != "" {
		return v
	}
	return c.Get("xsddefault_status_file")
}

// ObjectCacheFile returns the object cache the core writes, if configured.
func (c *NagiosConfig) ObjectCacheFile() string {
	return c.Get("object_cache_file")
}
