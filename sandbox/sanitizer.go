package sandbox

import "regexp"

// marker replaces every denylisted construct. It carries no executable
// content, so running the sanitizer over already-sanitized text is a
// no-op.
const marker = "/* sandboxed */"

type denyPattern struct {
	re   *regexp.Regexp
	name string
}

// denyPatterns is the fixed denylist of dangerous constructs stripped
// before dispatch: dynamic evaluation, dynamic module loading, host
// document/window/navigation/storage objects and low-level networking
// primitives outside the monitored fetch bridge.
var denyPatterns = []denyPattern{
	{regexp.MustCompile(`\beval\s*\(`), "eval"},
	{regexp.MustCompile(`\bnew\s+Function\s*\(`), "Function constructor"},
	{regexp.MustCompile(`\bFunction\s*\(`), "Function constructor"},
	{regexp.MustCompile(`\bimport\s*\(`), "dynamic import"},
	{regexp.MustCompile(`\brequire\s*\(`), "require"},
	{regexp.MustCompile(`\bimportScripts\s*\(`), "importScripts"},
	{regexp.MustCompile(`\bdocument\s*\.`), "document"},
	{regexp.MustCompile(`\bwindow\s*\.`), "window"},
	{regexp.MustCompile(`\bparent\s*\.`), "parent"},
	{regexp.MustCompile(`\btop\s*\.`), "top"},
	{regexp.MustCompile(`\bnavigator\s*\.`), "navigator"},
	{regexp.MustCompile(`\blocation\s*\.`), "location"},
	{regexp.MustCompile(`\blocalStorage\b`), "localStorage"},
	{regexp.MustCompile(`\bsessionStorage\b`), "sessionStorage"},
	{regexp.MustCompile(`\bindexedDB\b`), "indexedDB"},
	{regexp.MustCompile(`\bXMLHttpRequest\b`), "XMLHttpRequest"},
	{regexp.MustCompile(`\bnew\s+WebSocket\s*\(`), "WebSocket"},
	{regexp.MustCompile(`\bprocess\s*\.`), "process"},
	{regexp.MustCompile(`\bchild_process\b`), "child_process"},
}

// Sanitize strips known-dangerous constructs from code, replacing each
// occurrence with an inert marker comment. It is a textual pre-filter,
// not a security boundary: it is deterministic, total and idempotent,
// and the isolation backend must not rely on it (see the package doc).
func Sanitize(code string) string {
	sanitized, _ := SanitizeReport(code)
	return sanitized
}

// SanitizeReport sanitizes code and additionally names each construct
// that was neutralized, for the Warnings field of the result.
func SanitizeReport(code string) (string, []string) {
	var warnings []string
	for _, p := range denyPatterns {
		if !p.re.MatchString(code) {
			continue
		}
		code = p.re.ReplaceAllString(code, marker)
		warnings = append(warnings, "removed blocked construct: "+p.name)
	}
	return code, warnings
}
