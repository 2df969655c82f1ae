package errors

import (
	"bytes"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "K101", "Configuration file is not valid YAML", CategoryConfig},
		{"startup error", "K201", "Socket already in use", CategoryStartup},
		{"cli error", "K302", "Unknown log level", CategoryCLI},
		{"unknown code", "K999", "Unknown error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestRegistryCategories(t *testing.T) {
	prefixes := map[Category]string{
		CategoryConfig:  "K1",
		CategoryStartup: "K2",
		CategoryCLI:     "K3",
	}
	for code, tmpl := range registry {
		if !strings.HasPrefix(code, prefixes[tmpl.Category]) {
			t.Errorf("code %s has category %s", code, tmpl.Category)
		}
		if tmpl.Message == "" {
			t.Errorf("code %s has no message", code)
		}
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Message: "plain"}, "plain"},
		{New("K302"), "K302: Unknown log level"},
		{New("K102").WithDetailf("log.level: %q", "loud"), `K102: Invalid configuration value: log.level: "loud"`},
		{New("K202").Wrap(fs.ErrPermission), "K202: Cannot listen on socket: permission denied"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	err := New("K100").Wrap(fs.ErrNotExist)
	if !stderrors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is(err, fs.ErrNotExist) = false")
	}
	var target *Error
	if !stderrors.As(err, &target) || target.Code != "K100" {
		t.Errorf("errors.As() = %v", target)
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "K202") != nil {
		t.Error("FromError(nil) != nil")
	}
	orig := New("K201")
	if got := FromError(orig, "K202"); got != orig {
		t.Errorf("FromError(*Error) = %v, want the same error", got)
	}
	got := FromError(fs.ErrPermission, "K202")
	if got.Code != "K202" || !stderrors.Is(got, fs.ErrPermission) {
		t.Errorf("FromError() = %v", got)
	}
}

func TestFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "socket: wayland-1\nlog:\n  level: loud\n  stderr: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New("K102").
		WithLocation(path, 3, 10).
		WithDetail(`log.level: unknown level "loud"`).
		WithSuggestion("Use one of error, warn, info, debug, trace")
	out := err.Format()
	for _, want := range []string{
		"ERROR K102: Invalid configuration value",
		path + ":3:10",
		"→    3 │   level: loud",
		"│          ^",
		`log.level: unknown level "loud"`,
		"Hint: Use one of error, warn, info, debug, trace",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in:\n%s", want, out)
		}
	}

	if got, want := err.FormatCompact(), path+`:3:10: K102: Invalid configuration value: log.level: unknown level "loud"`; got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, stderrors.New("boom"))
	if !strings.Contains(buf.String(), "ERROR: boom") {
		t.Errorf("PrintError() = %q", buf.String())
	}
	buf.Reset()
	PrintError(&buf, New("K300"))
	if !strings.Contains(buf.String(), "K300: Diagnostic endpoint unreachable") {
		t.Errorf("PrintError() = %q", buf.String())
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText(strings.Repeat("word ", 40), 20)
	for _, l := range lines {
		if len(l) > 20 {
			t.Errorf("line %q longer than 20", l)
		}
	}
	if got := strings.Join(lines, " "); got != strings.TrimSpace(strings.Repeat("word ", 40)) {
		t.Errorf("wrapText() lost words: %q", got)
	}
	long := strings.Repeat("x", 30)
	if got := wrapText("a "+long+" b", 20); len(got) != 3 || got[1] != long {
		t.Errorf("wrapText() = %q, want the long word on its own line", got)
	}
	if wrapText("", 10) != nil {
		t.Error("wrapText(\"\") != nil")
	}
}

func TestRenderColors(t *testing.T) {
	err := New("K201").WithSuggestion("Stop the other compositor")
	if plain := err.render(false); strings.Contains(plain, "\033[") {
		t.Errorf("render(false) contains escape sequences: %q", plain)
	}
	colored := err.render(true)
	if !strings.Contains(colored, sgrRed) || !strings.Contains(colored, sgrReset) {
		t.Errorf("render(true) = %q, want SGR sequences", colored)
	}
	if got := stripSGR(colored); got != err.Format() {
		t.Errorf("render(true) without colors = %q, want %q", got, err.Format())
	}
}

func stripSGR(s string) string {
	for _, sgr := range []string{sgrReset, sgrBold, sgrRed, sgrCyan, sgrGray} {
		s = strings.ReplaceAll(s, sgr, "")
	}
	return s
}
