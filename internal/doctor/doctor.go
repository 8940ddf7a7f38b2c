// Package doctor validates a strata project before anything runs.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/strata/internal/config"
	"github.com/mattjoyce/strata/internal/scheduler"
	"github.com/mattjoyce/strata/internal/stage"
	"github.com/mattjoyce/strata/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Stages   []string `json:"stages,omitempty"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config and the stages it points at.
type Doctor struct {
	cfg      *config.Config
	opts     stage.Options
	lookPath func(string) (string, error)
	probe    func(string) (storage.Mount, error)
}

// New creates a Doctor. opts are the discovery options the run would use.
func New(cfg *config.Config, opts stage.Options) *Doctor {
	return &Doctor{cfg: cfg, opts: opts, lookPath: exec.LookPath, probe: storage.Probe}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDirectories(r)
	d.validateMounts(r)
	units := d.validateStages(r)
	d.validateInterpreters(r, units)
	d.warnPrefixWidths(r, units)
	d.validateSchedule(r)
	d.validateAPIConfig(r)
	d.warnMissingEnvVars(r)

	r.Stages = stage.Names(units)
	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateDirectories checks the layout a run depends on.
func (d *Doctor) validateDirectories(r *Result) {
	info, err := os.Stat(d.cfg.StagesDir)
	switch {
	case os.IsNotExist(err):
		d.addError(r, "paths", "stages_dir", fmt.Sprintf("stages directory %s does not exist", d.cfg.StagesDir))
	case err != nil:
		d.addError(r, "paths", "stages_dir", err.Error())
	case !info.IsDir():
		d.addError(r, "paths", "stages_dir", fmt.Sprintf("%s is not a directory", d.cfg.StagesDir))
	}

	info, err = os.Stat(d.cfg.DataDir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "paths", "data_dir",
			fmt.Sprintf("data directory %s does not exist yet; the first run will skip the snapshot", d.cfg.DataDir))
	case err != nil:
		d.addError(r, "paths", "data_dir", err.Error())
	case !info.IsDir():
		d.addError(r, "paths", "data_dir", fmt.Sprintf("%s is not a directory", d.cfg.DataDir))
	}

	if config.IsWithin(d.cfg.DataDir, d.cfg.HistoryDir) {
		d.addError(r, "paths", "history_dir", "history_dir must not be inside data_dir")
	}
	if config.IsWithin(d.cfg.DataDir, d.cfg.State.Path) {
		d.addError(r, "paths", "state.path",
			"state.path must not be inside data_dir; stages would mutate the run log and snapshots would copy it")
	}
	if config.IsWithin(d.cfg.StagesDir, d.cfg.DataDir) {
		d.addWarning(r, "paths", "data_dir", "data_dir is inside stages_dir")
	}
}

// validateMounts flags network filesystems under the run log and the snapshot paths.
func (d *Doctor) validateMounts(r *Result) {
	m, err := d.probe(d.cfg.State.Path)
	switch {
	case err != nil:
		d.addWarning(r, "paths", "state.path", fmt.Sprintf("cannot inspect filesystem: %v", err))
	case m.Network:
		d.addError(r, "paths", "state.path",
			fmt.Sprintf("run log %s is on network filesystem %s; SQLite needs local disk", d.cfg.State.Path, m.Type))
	}

	for _, p := range []struct{ field, path string }{
		{"data_dir", d.cfg.DataDir},
		{"history_dir", d.cfg.HistoryDir},
	} {
		m, err := d.probe(p.path)
		if err != nil || !m.Network {
			continue
		}
		d.addWarning(r, "paths", p.field,
			fmt.Sprintf("%s is on network filesystem %s; every snapshot copies the whole data directory across it", p.path, m.Type))
	}
}

// validateStages runs discovery exactly as a run would.
func (d *Doctor) validateStages(r *Result) []stage.Unit {
	if _, err := os.Stat(d.cfg.StagesDir); err != nil {
		return nil
	}
	units, err := stage.Discover(d.cfg.StagesDir, d.opts, nil)
	if err != nil {
		d.addError(r, "stages", "stages_dir", err.Error())
		return nil
	}
	if len(units) == 0 {
		d.addError(r, "stages", "stages.patterns",
			fmt.Sprintf("no stages match %s in %s; a run would fail", strings.Join(d.opts.Patterns, ", "), d.cfg.StagesDir))
	}
	return units
}

// validateInterpreters checks that every interpreter a stage needs is on PATH.
func (d *Doctor) validateInterpreters(r *Result, units []stage.Unit) {
	used := map[string][]string{}
	for _, u := range units {
		if len(u.Command) > 1 || u.Command[0] != u.Path {
			used[u.Command[0]] = append(used[u.Command[0]], u.Name)
		}
	}

	bins := make([]string, 0, len(used))
	for bin := range used {
		bins = append(bins, bin)
	}
	sort.Strings(bins)

	for _, bin := range bins {
		if _, err := d.lookPath(bin); err != nil {
			d.addError(r, "interpreters", "stages.interpreters",
				fmt.Sprintf("interpreter %q not found (needed by %s)", bin, strings.Join(used[bin], ", ")))
		}
	}
}

var numericPrefix = regexp.MustCompile(`^(\d+)`)

// warnPrefixWidths flags numeric name prefixes whose lexicographic order
// differs from their numeric order, e.g. 9_load.py sorting after 10_report.py.
func (d *Doctor) warnPrefixWidths(r *Result, units []stage.Unit) {
	widths := map[int][]string{}
	seen := map[string]string{}
	for _, u := range units {
		if u.Order != nil {
			continue
		}
		m := numericPrefix.FindString(u.Name)
		if m == "" {
			continue
		}
		widths[len(m)] = append(widths[len(m)], u.Name)
		if prev, dup := seen[m]; dup {
			d.addWarning(r, "ordering", u.Name,
				fmt.Sprintf("shares prefix %s with %s; order between them falls back to the rest of the name", m, prev))
		} else {
			seen[m] = u.Name
		}
	}
	if len(widths) > 1 {
		keys := make([]int, 0, len(widths))
		for w := range widths {
			keys = append(keys, w)
		}
		sort.Ints(keys)
		var parts []string
		for _, w := range keys {
			parts = append(parts, fmt.Sprintf("%d digits: %s", w, strings.Join(widths[w], ", ")))
		}
		d.addWarning(r, "ordering", "",
			"numeric prefixes have different widths and sort as text, not numbers ("+strings.Join(parts, "; ")+
				"); pad them or set order in "+d.opts.Manifest)
	}
}

// validateSchedule checks the daemon cron expression.
func (d *Doctor) validateSchedule(r *Result) {
	if d.cfg.Schedule.Cron == "" {
		return
	}
	if _, err := scheduler.Parse(d.cfg.Schedule.Cron); err != nil {
		d.addError(r, "schedule", "schedule.cron", err.Error())
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if d.cfg.API.Listen == "" {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.Token == "" && !isLoopback(host) {
		d.addWarning(r, "api", "api.token", "API listens on a non-loopback address without a token")
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// warnMissingEnvVars warns about ${VAR} references left unexpanded.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	for _, m := range envVarRe.FindAllStringSubmatch(d.cfg.API.Token, -1) {
		d.addWarning(r, "env_vars", "api.token", fmt.Sprintf("environment variable ${%s} not set", m[1]))
	}
	for ext, argv := range d.cfg.Stages.Interpreters {
		for _, arg := range argv {
			for _, m := range envVarRe.FindAllStringSubmatch(arg, -1) {
				d.addWarning(r, "env_vars", "stages.interpreters"+ext,
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if len(r.Stages) > 0 {
		fmt.Fprintf(&b, "Stages (execution order): %s\n", strings.Join(r.Stages, ", "))
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
