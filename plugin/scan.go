package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Finding severity levels, ordered from most to least severe.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityMinor    Severity = "MINOR"
	SeverityInfo     Severity = "INFO"
)

// Finding is one security scan observation.
type Finding struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
}

// ScanReport is the outcome of scanning one archive. Registration is
// rejected iff the report carries any CRITICAL finding.
type ScanReport struct {
	ArchivePath string    `json:"archive_path"`
	Findings    []Finding `json:"findings,omitempty"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// Passed reports whether the archive may be registered.
func (r *ScanReport) Passed() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// Criticals returns the CRITICAL findings.
func (r *ScanReport) Criticals() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}

func (r *ScanReport) add(sev Severity, rule, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Severity: sev,
		Rule:     rule,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Scan thresholds and the fixed policy lists. The blocklist names the
// capability families a data-source plugin has no business touching:
// process spawning, security-manager mutation, raw filesystem writers
// outside the standard APIs, and reflective loaders.
const (
	maxArchiveSize = 100 << 20 // 100 MB
	maxEntrySize   = 10 << 20  // 10 MB
)

var blockedSymbolFragments = []string{
	"os/exec",
	"exec.Command",
	"syscall.Exec",
	"syscall.ForkExec",
	"SecurityManager",
	"setSecurityManager",
	"unsafe.Pointer",
	"plugin.Open",
	"reflect.MakeFunc",
	"dlopen",
}

var dangerousSymbolSuffixes = []string{
	"Exec",
	"Shell",
	"Spawn",
	"Eval",
	"Loader",
}

var suspiciousDependencyFragments = []string{
	"runtime",
	"process",
	"script",
	"eval",
	"unsafe",
}

// blockedEntryPatterns are archive paths that have no place in a
// data-source plugin, matched with doublestar globs.
var blockedEntryPatterns = []string{
	"**/*.so",
	"**/*.dll",
	"**/*.dylib",
	"**/.git/**",
}

// Scanner performs the structural, non-sandboxing security scan on
// plugin archives. Strict mode adds naming-convention checks and a
// test-connection probe against the bound plugin.
type Scanner struct {
	Strict bool
}

// ScanArchive applies the fixed rule set to an archive. plugin may be
// nil when the archive has not been bound yet; the test-connection
// probe is skipped in that case.
func (s *Scanner) ScanArchive(ctx context.Context, archive *Archive, bound Plugin) *ScanReport {
	report := &ScanReport{ArchivePath: archive.Path, ScannedAt: time.Now()}

	if len(archive.Entries) == 0 {
		report.add(SeverityCritical, "empty-archive", "archive contains no entries")
		return report
	}
	if !archive.HasDescriptor() {
		report.add(SeverityCritical, "missing-spi", "archive is missing the %s declaration", SPIDescriptorPath)
	}

	if archive.Size > maxArchiveSize {
		report.add(SeverityWarning, "archive-size", "archive is %d bytes, above the %d byte threshold", archive.Size, int64(maxArchiveSize))
	}
	for _, entry := range archive.Entries {
		if entry.Size > maxEntrySize {
			report.add(SeverityWarning, "entry-size", "entry %s is %d bytes, above the %d byte threshold", entry.Name, entry.Size, int64(maxEntrySize))
		}
		for _, pattern := range blockedEntryPatterns {
			if ok, _ := doublestar.Match(pattern, entry.Name); ok {
				report.add(SeverityCritical, "blocked-entry", "entry %s matches blocked pattern %s", entry.Name, pattern)
			}
		}
	}

	s.scanSymbols(report, archive.Symbols)
	s.scanIdentity(report, archive, bound)
	s.scanDependencies(report, archive, bound)

	if s.Strict {
		s.strictChecks(ctx, report, archive, bound)
	}

	report.add(SeverityInfo, "scan-complete", "scanned %d entries, %d symbols", len(archive.Entries), len(archive.Symbols))
	return report
}

func (s *Scanner) scanSymbols(report *ScanReport, symbols []string) {
	for _, sym := range symbols {
		for _, blocked := range blockedSymbolFragments {
			if strings.Contains(sym, blocked) {
				report.add(SeverityCritical, "blocked-symbol", "symbol %s references blocked capability %s", sym, blocked)
			}
		}
		for _, suffix := range dangerousSymbolSuffixes {
			if strings.HasSuffix(sym, suffix) {
				report.add(SeverityWarning, "dangerous-suffix", "symbol %s has dangerous suffix %s", sym, suffix)
			}
		}
	}
}

func (s *Scanner) scanIdentity(report *ScanReport, archive *Archive, bound Plugin) {
	info := archiveIdentity(archive, bound)

	if info.Author == "" {
		report.add(SeverityWarning, "unknown-author", "plugin author is not declared")
	}
	if info.Name == "" {
		report.add(SeverityMinor, "missing-metadata", "plugin name is not declared")
	}
	if info.Version == "" {
		report.add(SeverityMinor, "missing-metadata", "plugin version is not declared")
	}
	if info.Description == "" {
		report.add(SeverityMinor, "missing-metadata", "plugin description is not declared")
	}
}

func (s *Scanner) scanDependencies(report *ScanReport, archive *Archive, bound Plugin) {
	var deps []string
	if archive.Manifest != nil {
		deps = append(deps, archive.Manifest.Dependencies...)
	}
	if provider, ok := bound.(DependencyProvider); ok {
		deps = append(deps, provider.Dependencies()...)
	}

	for _, dep := range deps {
		lower := strings.ToLower(dep)
		for _, frag := range suspiciousDependencyFragments {
			if strings.Contains(lower, frag) {
				report.add(SeverityWarning, "suspicious-dependency", "dependency %q matches %q", dep, frag)
			}
		}
	}
}

func (s *Scanner) strictChecks(ctx context.Context, report *ScanReport, archive *Archive, bound Plugin) {
	for _, sym := range archive.Symbols {
		if !strings.Contains(sym, ".") {
			report.add(SeverityWarning, "naming-convention", "symbol %s is not namespace-qualified", sym)
		}
	}

	info := archiveIdentity(archive, bound)
	if info.PluginID != "" && strings.ToLower(info.PluginID) != info.PluginID {
		report.add(SeverityWarning, "naming-convention", "plugin id %q is not lower-case", info.PluginID)
	}

	if bound != nil {
		probe := bound.TestConnection(ctx, map[string]any{})
		if probe == nil || !probe.Success {
			msg := "no result"
			if probe != nil {
				msg = probe.Message
			}
			report.add(SeverityInfo, "test-connection", "strict probe did not succeed: %s", msg)
		}
	}
}

// archiveIdentity prefers the manifest; when absent the plugin's
// self-reported values are authoritative.
func archiveIdentity(archive *Archive, bound Plugin) Info {
	if archive.Manifest != nil {
		return archive.Manifest.Info
	}
	if bound != nil {
		return bound.Info()
	}
	return Info{}
}
