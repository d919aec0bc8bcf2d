// Package classtest assembles small but valid class files for tests.
package classtest

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Op emits the bytes of one instruction, interning any constants it needs.
type Op func(p *pool) []byte

// InvokeStatic emits invokestatic class.name:desc.
func InvokeStatic(class, name, desc string) Op { return invoke(0xb8, false, class, name, desc) }

// InvokeSpecial emits invokespecial class.name:desc.
func InvokeSpecial(class, name, desc string) Op { return invoke(0xb7, false, class, name, desc) }

// InvokeVirtual emits invokevirtual class.name:desc.
func InvokeVirtual(class, name, desc string) Op { return invoke(0xb6, false, class, name, desc) }

// InvokeInterface emits invokeinterface class.name:desc.
func InvokeInterface(class, name, desc string) Op { return invoke(0xb9, true, class, name, desc) }

func invoke(op byte, iface bool, class, name, desc string) Op {
	return func(p *pool) []byte {
		idx := p.methodRef(iface, class, name, desc)
		out := []byte{op, byte(idx >> 8), byte(idx)}
		if op == 0xb9 {
			params, _, _ := jvm.ParseMethodDescriptor(desc)
			out = append(out, byte(len(params)+1), 0)
		}
		return out
	}
}

// Raw emits the given bytes verbatim.
func Raw(b ...byte) Op {
	return func(*pool) []byte { return b }
}

// Return emits a void return.
func Return() Op { return Raw(0xb1) }

type method struct {
	name, desc string
	flags      jvm.AccessFlags
	code       []Op
}

// Class describes a class file under construction.
type Class struct {
	name       string
	super      string
	interfaces []string
	flags      jvm.AccessFlags
	methods    []method
}

// NewClass starts a public class extending java.lang.Object.
func NewClass(name string) *Class {
	return &Class{name: name, super: string(jvm.ObjectClass), flags: jvm.AccPublic | 0x0020}
}

// NewInterface starts a public interface.
func NewInterface(name string) *Class {
	c := NewClass(name)
	c.flags = jvm.AccPublic | jvm.AccInterface | jvm.AccAbstract
	return c
}

// Extends sets the superclass; an empty name produces a root class.
func (c *Class) Extends(super string) *Class {
	c.super = super
	return c
}

// Implements adds directly declared interfaces.
func (c *Class) Implements(names ...string) *Class {
	c.interfaces = append(c.interfaces, names...)
	return c
}

// Method adds a concrete method. A trailing return is appended when code is
// empty.
func (c *Class) Method(name, desc string, flags jvm.AccessFlags, code ...Op) *Class {
	if len(code) == 0 {
		code = []Op{Return()}
	}
	c.methods = append(c.methods, method{name: name, desc: desc, flags: flags, code: code})
	return c
}

// Abstract adds a method without a Code attribute.
func (c *Class) Abstract(name, desc string) *Class {
	c.methods = append(c.methods, method{name: name, desc: desc, flags: jvm.AccPublic | jvm.AccAbstract})
	return c
}

// Native adds a native method.
func (c *Class) Native(name, desc string) *Class {
	c.methods = append(c.methods, method{name: name, desc: desc, flags: jvm.AccPublic | jvm.AccNative})
	return c
}

// Constructor adds a default <init> that chains to the superclass.
func (c *Class) Constructor() *Class {
	return c.Method(jvm.ConstructorName, "()V", jvm.AccPublic,
		Raw(0x2a), // aload_0
		InvokeSpecial(c.super, jvm.ConstructorName, "()V"),
		Return())
}

// Bytes assembles the class file.
func (c *Class) Bytes() []byte {
	p := newPool()
	thisIdx := p.class(c.name)
	var superIdx uint16
	if c.super != "" {
		superIdx = p.class(c.super)
	}
	ifaces := make([]uint16, len(c.interfaces))
	for i, name := range c.interfaces {
		ifaces[i] = p.class(name)
	}

	var methods bytes.Buffer
	codeAttr := p.utf8("Code")
	for _, m := range c.methods {
		put16(&methods, uint16(m.flags))
		put16(&methods, p.utf8(m.name))
		put16(&methods, p.utf8(m.desc))
		if m.flags.Has(jvm.AccAbstract) || m.flags.Has(jvm.AccNative) {
			put16(&methods, 0)
			continue
		}
		var code bytes.Buffer
		for _, op := range m.code {
			code.Write(op(p))
		}
		put16(&methods, 1)
		put16(&methods, codeAttr)
		put32(&methods, uint32(12+code.Len()))
		put16(&methods, 8) // max_stack
		put16(&methods, 8) // max_locals
		put32(&methods, uint32(code.Len()))
		methods.Write(code.Bytes())
		put16(&methods, 0) // exception table
		put16(&methods, 0) // attributes
	}

	var out bytes.Buffer
	put32(&out, 0xCAFEBABE)
	put16(&out, 0)
	put16(&out, 52)
	put16(&out, uint16(p.count))
	out.Write(p.buf.Bytes())
	put16(&out, uint16(c.flags))
	put16(&out, thisIdx)
	put16(&out, superIdx)
	put16(&out, uint16(len(ifaces)))
	for _, idx := range ifaces {
		put16(&out, idx)
	}
	put16(&out, 0) // fields
	put16(&out, uint16(len(c.methods)))
	out.Write(methods.Bytes())
	put16(&out, 0) // attributes
	return out.Bytes()
}

// Path returns the slash-separated relative path of the class file.
func (c *Class) Path() string {
	return strings.ReplaceAll(c.name, ".", "/") + ".class"
}

// Name returns the dotted class name.
func (c *Class) Name() string { return c.name }

type pool struct {
	buf   bytes.Buffer
	count int
	seen  map[string]uint16
}

func newPool() *pool {
	return &pool{count: 1, seen: make(map[string]uint16)}
}

func (p *pool) add(key string, entry []byte) uint16 {
	if idx, ok := p.seen[key]; ok {
		return idx
	}
	idx := uint16(p.count)
	p.buf.Write(entry)
	p.count++
	p.seen[key] = idx
	return idx
}

func (p *pool) utf8(s string) uint16 {
	entry := []byte{1, byte(len(s) >> 8), byte(len(s))}
	return p.add("u:"+s, append(entry, s...))
}

func (p *pool) class(name string) uint16 {
	internal := name
	if !strings.HasPrefix(name, "[") {
		internal = strings.ReplaceAll(name, ".", "/")
	}
	n := p.utf8(internal)
	return p.add("c:"+internal, []byte{7, byte(n >> 8), byte(n)})
}

func (p *pool) nameAndType(name, desc string) uint16 {
	n, d := p.utf8(name), p.utf8(desc)
	return p.add("n:"+name+":"+desc, []byte{12, byte(n >> 8), byte(n), byte(d >> 8), byte(d)})
}

func (p *pool) methodRef(iface bool, class, name, desc string) uint16 {
	tag, key := byte(10), "m:"
	if iface {
		tag, key = 11, "i:"
	}
	c, nt := p.class(class), p.nameAndType(name, desc)
	return p.add(key+class+"."+name+desc, []byte{tag, byte(c >> 8), byte(c), byte(nt >> 8), byte(nt)})
}

func put16(b *bytes.Buffer, v uint16) {
	_ = binary.Write(b, binary.BigEndian, v)
}

func put32(b *bytes.Buffer, v uint32) {
	_ = binary.Write(b, binary.BigEndian, v)
}
