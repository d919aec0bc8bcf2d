// Package jvm defines the class-model vocabulary shared by the class-file
// frontend and the reachability analysis.
package jvm

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Sentinel errors returned by class-model providers and the resolver.
var (
	ErrClassNotFound  = errors.New("class not found")
	ErrMalformedClass = errors.New("malformed class file")
	ErrMethodNotFound = errors.New("method not found")
	ErrNoBody         = errors.New("method has no body")
	ErrLevelTooLow    = errors.New("class not resolved to signatures")
)

// IsUnavailable reports whether err is a resolution miss rather than a
// provider failure. Misses end traversal of one edge; anything else is fatal.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrMalformedClass) ||
		errors.Is(err, ErrMethodNotFound) ||
		errors.Is(err, ErrNoBody)
}

// ClassName is a fully-qualified dotted class name, e.g. "java.lang.Object".
type ClassName string

// ObjectClass is the root of every class hierarchy.
const ObjectClass ClassName = "java.lang.Object"

// Package returns the dotted package prefix of the class, or "" for the
// default package.
func (c ClassName) Package() string {
	s := string(c)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return ""
}

// InternalName returns the slash-separated form used inside class files.
func (c ClassName) InternalName() string {
	return strings.ReplaceAll(string(c), ".", "/")
}

// ClassNameFromInternal converts "java/lang/Object" to "java.lang.Object".
func ClassNameFromInternal(internal string) ClassName {
	return ClassName(strings.ReplaceAll(internal, "/", "."))
}

// Level is how much of a class has been materialized. Levels are ordered and
// a class's level only ever increases.
type Level int

const (
	LevelNone Level = iota
	LevelHierarchy
	LevelSignatures
	LevelBodies
)

func (l Level) String() string {
	switch l {
	case LevelHierarchy:
		return "hierarchy"
	case LevelSignatures:
		return "signatures"
	case LevelBodies:
		return "bodies"
	default:
		return "none"
	}
}

// ParseLevel parses the names produced by Level.String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hierarchy":
		return LevelHierarchy, nil
	case "signatures":
		return LevelSignatures, nil
	case "bodies":
		return LevelBodies, nil
	}
	return LevelNone, fmt.Errorf("unknown resolution level %q", s)
}

// Special method names.
const (
	ConstructorName       = "<init>"
	StaticInitializerName = "<clinit>"
)

// MethodSignature identifies a method: declaring class, name, parameter types
// and return type. Params holds the Java type names joined by commas so the
// struct stays comparable and can key maps directly.
type MethodSignature struct {
	Class  ClassName
	Name   string
	Params string
	Return string
}

// NewMethodSignature builds a signature from a list of parameter types.
func NewMethodSignature(class ClassName, name string, params []string, ret string) MethodSignature {
	return MethodSignature{Class: class, Name: name, Params: strings.Join(params, ","), Return: ret}
}

// ParamTypes splits Params back into individual type names.
func (m MethodSignature) ParamTypes() []string {
	if m.Params == "" {
		return nil
	}
	return strings.Split(m.Params, ",")
}

// SubSignature is the part of the signature that is independent of the
// declaring class, e.g. "void run(int)".
func (m MethodSignature) SubSignature() string {
	return m.Return + " " + m.Name + "(" + m.Params + ")"
}

// WithClass returns the same method shape declared by another class.
func (m MethodSignature) WithClass(c ClassName) MethodSignature {
	m.Class = c
	return m
}

func (m MethodSignature) IsConstructor() bool       { return m.Name == ConstructorName }
func (m MethodSignature) IsStaticInitializer() bool { return m.Name == StaticInitializerName }

// String renders the signature as "<app.K: void run(int)>".
func (m MethodSignature) String() string {
	return "<" + string(m.Class) + ": " + m.SubSignature() + ">"
}

// AccessFlags are the raw JVM access flags of a class or method.
type AccessFlags uint16

const (
	AccPublic    AccessFlags = 0x0001
	AccPrivate   AccessFlags = 0x0002
	AccProtected AccessFlags = 0x0004
	AccStatic    AccessFlags = 0x0008
	AccFinal     AccessFlags = 0x0010
	AccNative    AccessFlags = 0x0100
	AccInterface AccessFlags = 0x0200
	AccAbstract  AccessFlags = 0x0400
)

func (f AccessFlags) Has(flag AccessFlags) bool { return f&flag != 0 }

// Class is a class resolved to some Level. Methods is nil below
// LevelSignatures; method bodies are only attached at LevelBodies.
type Class struct {
	Name       ClassName
	Level      Level
	Flags      AccessFlags
	Super      ClassName
	Interfaces []ClassName
	Methods    []*Method
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Flags.Has(AccInterface) }

// Implements reports whether name is among the directly declared interfaces.
func (c *Class) Implements(name ClassName) bool {
	for _, iface := range c.Interfaces {
		if iface == name {
			return true
		}
	}
	return false
}

// Method returns the declared method with the given name and descriptor shape.
func (c *Class) Method(sig MethodSignature) *Method {
	for _, m := range c.Methods {
		if m.Signature.Name == sig.Name && m.Signature.Params == sig.Params && m.Signature.Return == sig.Return {
			return m
		}
	}
	return nil
}

// MethodByName returns the first declared method called name.
func (c *Class) MethodByName(name string) *Method {
	for _, m := range c.Methods {
		if m.Signature.Name == name {
			return m
		}
	}
	return nil
}

// Method is a declared method. Body is set only when the declaring class was
// resolved to LevelBodies and the method is concrete.
type Method struct {
	Signature MethodSignature
	Flags     AccessFlags
	Body      Body
}

// IsConcrete reports whether the method can carry a body.
func (m *Method) IsConcrete() bool {
	return !m.Flags.Has(AccAbstract) && !m.Flags.Has(AccNative)
}

func (m *Method) IsStatic() bool { return m.Flags.Has(AccStatic) }

// Body is an executable method representation. Instructions yields every
// instruction in code order; a decoding failure is yielded as an error and
// ends the sequence.
type Body interface {
	Instructions() iter.Seq2[Instruction, error]
}

// InvokeKind distinguishes the invocation opcodes.
type InvokeKind string

const (
	InvokeVirtual   InvokeKind = "virtual"
	InvokeSpecial   InvokeKind = "special"
	InvokeStatic    InvokeKind = "static"
	InvokeInterface InvokeKind = "interface"
	InvokeDynamic   InvokeKind = "dynamic"
)

// InvokeRef is the statically declared target of an invocation.
type InvokeRef struct {
	Kind   InvokeKind
	Target MethodSignature
}

// Instruction is one decoded instruction. Invoke is non-nil for invocations
// that name a declaring class.
type Instruction struct {
	Offset int
	Opcode byte
	Invoke *InvokeRef
}

// InstructionList is a Body backed by an already decoded slice.
type InstructionList []Instruction

// Instructions implements Body.
func (l InstructionList) Instructions() iter.Seq2[Instruction, error] {
	return func(yield func(Instruction, error) bool) {
		for _, ins := range l {
			if !yield(ins, nil) {
				return
			}
		}
	}
}
