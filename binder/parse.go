package binder

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/miladsoleymani/cloudstream/core"
)

// ParseConfigurations reads a binder catalog. Each non-blank line that does
// not start with '#' has the form
//
//	name=source1,source2
//
// Whitespace around names and sources is ignored.
func ParseConfigurations(r io.Reader) ([]Configuration, error) {
	var (
		out  []Configuration
		seen = make(map[string]bool)
		line int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, list, ok := strings.Cut(text, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: line %d: expected name=sources", core.ErrConfiguration, line)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: line %d: duplicate binder %q", core.ErrConfiguration, line, name)
		}
		var sources []string
		for _, s := range strings.Split(list, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("%w: line %d: binder %q has no sources", core.ErrConfiguration, line, name)
		}
		seen[name] = true
		out = append(out, Configuration{Name: name, Sources: sources})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read binder catalog: %w", err)
	}
	return out, nil
}
