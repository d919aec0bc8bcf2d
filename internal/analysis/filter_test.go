package analysis

import (
	"testing"

	"github.com/abramin/kernelscan/internal/jvm"
)

func TestFilterPrecedence(t *testing.T) {
	f := NewFilter(Rules{
		RuntimeClasses: []string{"edu.syr.pcpratts.rootbeer.runtime.Kernel"},
		KeepPrefixes:   []string{"edu.syr.pcpratts.rootbeer.testcases."},
		IgnorePrefixes: []string{"edu.syr.pcpratts.rootbeer.", "soot."},
	})

	tests := []struct {
		class string
		want  Decision
		why   string
	}{
		{"edu.syr.pcpratts.rootbeer.runtime.Kernel", Include, "runtime class beats ignore prefix"},
		{"edu.syr.pcpratts.rootbeer.testcases.MMult", Include, "keep prefix beats ignore prefix"},
		{"edu.syr.pcpratts.rootbeer.runtime.KernelLauncher", Exclude, "runtime classes match exactly"},
		{"edu.syr.pcpratts.rootbeer.generate.Codegen", Exclude, "ignore prefix"},
		{"soot.Scene", Exclude, "ignore prefix"},
		{"sootless.Thing", Include, "prefixes are literal"},
		{"app.K", Include, "default"},
		{"K", Include, "default package"},
	}
	for _, tt := range tests {
		if got := f.Classify(jvm.ClassName(tt.class)); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s (%s)", tt.class, got, tt.want, tt.why)
		}
	}
}

func TestFilterEmptyRulesIncludeEverything(t *testing.T) {
	f := NewFilter(Rules{})
	if f.Classify("anything.At.All") != Include {
		t.Error("expected default include")
	}
}

func TestFilterDoesNotAliasRules(t *testing.T) {
	rules := Rules{IgnorePrefixes: []string{"soot."}}
	f := NewFilter(rules)
	rules.IgnorePrefixes[0] = "app."
	if f.Classify("app.K") != Include {
		t.Error("filter must not observe later changes to its rules")
	}
}

func TestClassNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want jvm.ClassName
		ok   bool
	}{
		{"/app/K.class", "app.K", true},
		{"app/K.class", "app.K", true},
		{"app/K$Inner.class", "app.K$Inner", true},
		{"Top.class", "Top", true},
		{`app\win\K.class`, "app.win.K", true},
		{"META-INF/MANIFEST.MF", "", false},
		{"app/.class", "", false},
		{"app/config.properties", "", false},
	}
	for _, tt := range tests {
		got, ok := ClassNameFromPath(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ClassNameFromPath(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCatalog(t *testing.T) {
	rules := Rules{
		RuntimeClasses: []string{"rt.Math", "rt.Memory"},
		IgnorePrefixes: []string{"rt.", "soot."},
	}
	c := NewCatalog(NewFilter(rules), rules.RuntimeClasses)

	for _, name := range []jvm.ClassName{"app.K", "soot.Scene", "rt.Math", "app.Helper", "app.K"} {
		c.Add(name)
	}

	if got := c.Application(); len(got) != 3 || got[0] != "app.K" || got[1] != "rt.Math" || got[2] != "app.Helper" {
		t.Errorf("Application() = %v", got)
	}
	if got := c.Ignored(); len(got) != 1 || got[0] != "soot.Scene" {
		t.Errorf("Ignored() = %v", got)
	}
	if !c.Contains("rt.Memory") {
		t.Error("runtime classes belong to the catalog even when never staged")
	}
	if c.IsApplication("rt.Memory") {
		t.Error("unstaged runtime class is not an application class")
	}
	if c.Contains("soot.Scene") {
		t.Error("excluded class must not be in the catalog")
	}
}
