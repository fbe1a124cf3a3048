package bootready

import (
	"fmt"
	"sort"
	"strings"
)

// ModuleDiagnostic describes a module that was not Active when a module wait
// failed.
type ModuleDiagnostic struct {
	Name    string            `json:"name"`
	Version string            `json:"version,omitempty"`
	State   string            `json:"state"`
	Headers map[string]string `json:"headers,omitempty"`
}

// String renders the diagnostic the way it is logged.
func (d ModuleDiagnostic) String() string {
	keys := make([]string, 0, len(d.Headers))
	for k := range d.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[ ")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s, ", k, d.Headers[k])
	}
	b.WriteString("]")
	return fmt.Sprintf("Module: %s_v%s | %s | Headers: %s", d.Name, d.Version, d.State, b.String())
}

// InactiveModules returns a diagnostic for every non-fragment module that is
// not Active. Fragments are skipped since they never become Active.
func InactiveModules(modules []Module) []ModuleDiagnostic {
	var out []ModuleDiagnostic
	for _, m := range modules {
		if m.State == ModuleStateActive || m.IsFragment() {
			continue
		}
		headers := make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			headers[k] = v
		}
		out = append(out, ModuleDiagnostic{
			Name:    m.Name,
			Version: m.Version,
			State:   m.State.String(),
			Headers: headers,
		})
	}
	return out
}

func logInactiveModules(logger Logger, diags []ModuleDiagnostic) {
	logger.Error("Listing inactive modules", "count", len(diags))
	for _, d := range diags {
		logger.Error(d.String())
	}
}
