package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openprism/desktop/internal/cmdrun"
)

// Entry records the availability of one toolchain.
type Entry struct {
	Name    string `json:"-"`
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Error   string `json:"error"`
}

// EngineSet keeps entries in probe-list order. It marshals to a JSON object
// whose keys follow that order.
type EngineSet []Entry

// Get returns the entry for name.
func (s EngineSet) Get(name string) (Entry, bool) {
	for _, e := range s {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names lists engine names in order.
func (s EngineSet) Names() []string {
	names := make([]string, len(s))
	for i, e := range s {
		names[i] = e.Name
	}
	return names
}

// MarshalJSON writes {"name": entry, ...} preserving order.
func (s EngineSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores the set, keeping the key order of the document.
func (s *EngineSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("engine set: expected object, got %v", tok)
	}
	var out EngineSet
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("engine %s: %w", name, err)
		}
		e.Name = name
		out = append(out, e)
	}
	*s = out
	return nil
}

// ProbeEngines runs "<engine> --version" for every configured engine. Probes
// run concurrently; results land in their list slot so completion order never
// affects the report.
func (p *Prober) ProbeEngines(ctx context.Context) EngineSet {
	engines := p.Engines
	if engines == nil {
		engines = Engines
	}
	results := make(EngineSet, len(engines))
	var g errgroup.Group
	if p.Concurrency > 0 {
		g.SetLimit(p.Concurrency)
	}
	for i, name := range engines {
		g.Go(func() error {
			results[i] = p.probeEngine(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Prober) probeEngine(ctx context.Context, name string) Entry {
	res := p.run(ctx, name, "--version")
	entry := Entry{
		Name:    name,
		OK:      res.OK,
		Version: FirstLine(res.Stdout + "\n" + res.Stderr),
	}
	if !res.OK {
		entry.Error = failureSummary(res)
		p.logger().Debug("engine unavailable", zap.String("engine", name), zap.String("error", entry.Error))
	}
	return entry
}

// failureSummary picks the most telling single line for a failed probe. It is
// never empty.
func failureSummary(res cmdrun.Result) string {
	if line := FirstLine(res.Stderr); line != "" {
		return line
	}
	if line := FirstLine(res.Error); line != "" {
		return line
	}
	if res.Kind == cmdrun.KindExit {
		return fmt.Sprintf("exit status %d", res.ExitCode)
	}
	if res.Kind != "" {
		return string(res.Kind)
	}
	return "unavailable"
}
