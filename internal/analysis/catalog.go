package analysis

import (
	"path"
	"strings"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Catalog is the working set of class names: application classes that
// passed the package filter plus the runtime whitelist. It only grows.
type Catalog struct {
	filter  *Filter
	app     orderedSet[jvm.ClassName]
	runtime orderedSet[jvm.ClassName]
	ignored orderedSet[jvm.ClassName]
}

// NewCatalog creates a catalog that already holds every runtime class named
// by the filter rules, whether or not it is ever staged.
func NewCatalog(filter *Filter, runtime []string) *Catalog {
	c := &Catalog{filter: filter}
	for _, name := range runtime {
		c.runtime.Add(jvm.ClassName(name))
	}
	return c
}

// Add classifies name and records it as an application class or as ignored.
func (c *Catalog) Add(name jvm.ClassName) Decision {
	d := c.filter.Classify(name)
	if d == Exclude {
		c.ignored.Add(name)
		return d
	}
	c.app.Add(name)
	return d
}

// Application returns the included application classes in ingestion order.
func (c *Catalog) Application() []jvm.ClassName { return c.app.Items() }

// Runtime returns the runtime whitelist in configured order.
func (c *Catalog) Runtime() []jvm.ClassName { return c.runtime.Items() }

// Ignored returns staged classes the filter excluded.
func (c *Catalog) Ignored() []jvm.ClassName { return c.ignored.Items() }

func (c *Catalog) IsApplication(name jvm.ClassName) bool { return c.app.Has(name) }

func (c *Catalog) IsIgnored(name jvm.ClassName) bool { return c.ignored.Has(name) }

// Contains reports whether name is an application or runtime class.
func (c *Catalog) Contains(name jvm.ClassName) bool {
	return c.app.Has(name) || c.runtime.Has(name)
}

// ClassNameFromPath derives a class name from a staged relative path such as
// "/app/K.class". Paths that do not name a class file return false.
func ClassNameFromPath(rel string) (jvm.ClassName, bool) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimLeft(rel, "/")
	if !strings.HasSuffix(rel, ".class") || path.Base(rel) == ".class" {
		return "", false
	}
	rel = strings.TrimSuffix(rel, ".class")
	return jvm.ClassNameFromInternal(rel), true
}
