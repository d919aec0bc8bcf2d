package analysis

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/abramin/kernelscan/internal/jvm"
)

const testMarker jvm.ClassName = "rt.Kernel"

var errDiskOnFire = errors.New("index corrupted")

func sig(class jvm.ClassName, name string) jvm.MethodSignature {
	return jvm.NewMethodSignature(class, name, nil, "void")
}

type lookupKey struct {
	name  jvm.ClassName
	level jvm.Level
}

// fakeProvider serves hand-built classes and counts every lookup and every
// body scan.
type fakeProvider struct {
	classes map[jvm.ClassName]*jvm.Class
	fatal   map[jvm.ClassName]error
	lookups map[lookupKey]int
	scans   map[jvm.MethodSignature]int
}

func newFakeProvider(defs ...*classDef) *fakeProvider {
	p := &fakeProvider{
		classes: make(map[jvm.ClassName]*jvm.Class),
		fatal:   make(map[jvm.ClassName]error),
		lookups: make(map[lookupKey]int),
		scans:   make(map[jvm.MethodSignature]int),
	}
	for _, d := range defs {
		p.classes[d.cls.Name] = d.cls
	}
	return p
}

func (p *fakeProvider) totalLookups(name jvm.ClassName) int {
	var n int
	for k, v := range p.lookups {
		if k.name == name {
			n += v
		}
	}
	return n
}

func (p *fakeProvider) Resolve(name jvm.ClassName, level jvm.Level) (*jvm.Class, error) {
	p.lookups[lookupKey{name, level}]++
	if err, ok := p.fatal[name]; ok {
		return nil, err
	}
	src, ok := p.classes[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, jvm.ErrClassNotFound)
	}
	cls := &jvm.Class{
		Name:       src.Name,
		Level:      level,
		Flags:      src.Flags,
		Super:      src.Super,
		Interfaces: slices.Clone(src.Interfaces),
	}
	if level == jvm.LevelHierarchy {
		return cls, nil
	}
	cls.Methods = []*jvm.Method{}
	for _, m := range src.Methods {
		cp := &jvm.Method{Signature: m.Signature, Flags: m.Flags}
		if level == jvm.LevelBodies && m.Body != nil {
			cp.Body = &countingBody{inner: m.Body, sig: m.Signature, p: p}
		}
		cls.Methods = append(cls.Methods, cp)
	}
	return cls, nil
}

func (p *fakeProvider) RetrieveBody(m *jvm.Method) (jvm.Body, error) {
	if m == nil || m.Body == nil {
		return nil, jvm.ErrNoBody
	}
	return m.Body, nil
}

type countingBody struct {
	inner jvm.Body
	sig   jvm.MethodSignature
	p     *fakeProvider
}

func (b *countingBody) Instructions() iter.Seq2[jvm.Instruction, error] {
	b.p.scans[b.sig]++
	return b.inner.Instructions()
}

// brokenBody decodes its invokes and then fails.
type brokenBody struct {
	calls jvm.InstructionList
}

func (b brokenBody) Instructions() iter.Seq2[jvm.Instruction, error] {
	return func(yield func(jvm.Instruction, error) bool) {
		for ins := range b.calls.Instructions() {
			if !yield(ins, nil) {
				return
			}
		}
		yield(jvm.Instruction{Offset: len(b.calls) * 3, Opcode: 0xff}, errors.New("undefined opcode 0xff"))
	}
}

// classDef builds fake classes whose methods all have shape "void name()".
type classDef struct {
	cls *jvm.Class
}

func newClass(name jvm.ClassName) *classDef {
	return &classDef{cls: &jvm.Class{Name: name, Super: jvm.ObjectClass, Flags: jvm.AccPublic}}
}

func newInterface(name jvm.ClassName) *classDef {
	d := newClass(name)
	d.cls.Flags |= jvm.AccInterface | jvm.AccAbstract
	return d
}

func (d *classDef) extends(super jvm.ClassName) *classDef {
	d.cls.Super = super
	return d
}

func (d *classDef) implements(names ...jvm.ClassName) *classDef {
	d.cls.Interfaces = append(d.cls.Interfaces, names...)
	return d
}

// method adds a concrete method whose body invokes each target in order.
func (d *classDef) method(name string, calls ...jvm.MethodSignature) *classDef {
	d.cls.Methods = append(d.cls.Methods, &jvm.Method{
		Signature: sig(d.cls.Name, name),
		Flags:     jvm.AccPublic,
		Body:      invokes(calls...),
	})
	return d
}

func (d *classDef) abstract(name string) *classDef {
	d.cls.Methods = append(d.cls.Methods, &jvm.Method{
		Signature: sig(d.cls.Name, name),
		Flags:     jvm.AccPublic | jvm.AccAbstract,
	})
	return d
}

// broken adds a method whose body decodes calls and then fails.
func (d *classDef) broken(name string, calls ...jvm.MethodSignature) *classDef {
	d.cls.Methods = append(d.cls.Methods, &jvm.Method{
		Signature: sig(d.cls.Name, name),
		Flags:     jvm.AccPublic,
		Body:      brokenBody{calls: invokes(calls...)},
	})
	return d
}

func invokes(calls ...jvm.MethodSignature) jvm.InstructionList {
	list := make(jvm.InstructionList, 0, len(calls)+1)
	for i, target := range calls {
		kind := jvm.InvokeStatic
		if target.Name == jvm.ConstructorName {
			kind = jvm.InvokeSpecial
		}
		list = append(list, jvm.Instruction{
			Offset: i * 3,
			Opcode: 0xb8,
			Invoke: &jvm.InvokeRef{Kind: kind, Target: target},
		})
	}
	return append(list, jvm.Instruction{Offset: len(calls) * 3, Opcode: 0xb1})
}

// stagedPaths yields class-file paths as the staging walk would.
func stagedPaths(names ...jvm.ClassName) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, n := range names {
			if !yield("/"+n.InternalName()+".class", nil) {
				return
			}
		}
	}
}
