// Package classfile reads JVM class files to the resolution level a caller
// asks for and serves them from a class path of directories and archives.
package classfile

import (
	"fmt"

	"github.com/abramin/kernelscan/internal/jvm"
)

const magic = 0xCAFEBABE

// Parse decodes data up to the requested level. At LevelHierarchy only the
// header (name, superclass, interfaces) is read; LevelSignatures adds the
// method table; LevelBodies also attaches the Code attribute of every
// concrete method. All failures wrap jvm.ErrMalformedClass.
func Parse(data []byte, level jvm.Level) (*jvm.Class, error) {
	cls, err := parse(data, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jvm.ErrMalformedClass, err)
	}
	return cls, nil
}

func parse(data []byte, level jvm.Level) (*jvm.Class, error) {
	if level < jvm.LevelHierarchy || level > jvm.LevelBodies {
		return nil, fmt.Errorf("invalid level %d", level)
	}
	r := &reader{buf: data}
	if r.u4() != magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("bad magic")
	}
	r.skip(4) // minor, major

	cp, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	cls := &jvm.Class{Level: jvm.LevelHierarchy}
	cls.Flags = jvm.AccessFlags(r.u2())
	thisIdx := r.u2()
	superIdx := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	if cls.Name, err = cp.className(thisIdx); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if superIdx != 0 {
		if cls.Super, err = cp.className(superIdx); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	n := int(r.u2())
	for i := 0; i < n; i++ {
		iface, err := cp.className(r.u2())
		if r.err != nil {
			return nil, r.err
		}
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cls.Interfaces = append(cls.Interfaces, iface)
	}
	if r.err != nil {
		return nil, r.err
	}
	if level == jvm.LevelHierarchy {
		return cls, nil
	}

	// Fields are never needed by the analysis.
	fields := int(r.u2())
	for i := 0; i < fields; i++ {
		r.skip(6)
		skipAttributes(r)
	}
	if r.err != nil {
		return nil, fmt.Errorf("fields: %w", r.err)
	}

	methods := int(r.u2())
	cls.Methods = make([]*jvm.Method, 0, methods)
	for i := 0; i < methods; i++ {
		m, err := readMethod(r, cp, cls.Name, level)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		cls.Methods = append(cls.Methods, m)
	}
	cls.Level = level
	return cls, nil
}

func readMethod(r *reader, cp constPool, owner jvm.ClassName, level jvm.Level) (*jvm.Method, error) {
	flags := jvm.AccessFlags(r.u2())
	nameIdx := r.u2()
	descIdx := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	name, err := cp.utf8(nameIdx)
	if err != nil {
		return nil, err
	}
	desc, err := cp.utf8(descIdx)
	if err != nil {
		return nil, err
	}
	sig, err := jvm.SignatureFromDescriptor(owner, name, desc)
	if err != nil {
		return nil, err
	}
	m := &jvm.Method{Signature: sig, Flags: flags}

	attrs := int(r.u2())
	for i := 0; i < attrs; i++ {
		attrName, err := cp.utf8(r.u2())
		length := int(r.u4())
		if r.err != nil {
			return nil, r.err
		}
		if err != nil {
			return nil, fmt.Errorf("attribute name: %w", err)
		}
		data := r.bytes(length)
		if r.err != nil {
			return nil, r.err
		}
		if level == jvm.LevelBodies && attrName == "Code" && m.IsConcrete() {
			m.Body = readCode(data, cp)
		}
	}
	return m, r.err
}

func skipAttributes(r *reader) {
	n := int(r.u2())
	for i := 0; i < n; i++ {
		r.skip(2)
		r.skip(int(r.u4()))
	}
}

// readCode extracts the bytecode array of a Code attribute. Exception tables
// and nested attributes are ignored. A malformed attribute is kept on the
// body and reported when its instructions are scanned.
func readCode(data []byte, cp constPool) *codeBody {
	r := &reader{buf: data}
	r.skip(4) // max_stack, max_locals
	n := int(r.u4())
	code := r.bytes(n)
	if r.err != nil {
		return &codeBody{cp: cp, err: fmt.Errorf("code attribute: %w", r.err)}
	}
	return &codeBody{code: code, cp: cp}
}
