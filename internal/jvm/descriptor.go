package jvm

import (
	"fmt"
	"strings"
)

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

var primitiveCodes = func() map[string]byte {
	m := make(map[string]byte, len(primitiveNames))
	for code, name := range primitiveNames {
		m[name] = code
	}
	return m
}()

// ParseMethodDescriptor converts a descriptor such as "(I[Ljava/lang/String;)V"
// into Java type names: ([]{"int", "java.lang.String[]"}, "void").
func ParseMethodDescriptor(desc string) ([]string, string, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("method descriptor %q: missing parameter list", desc)
	}
	var params []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		name, next, err := parseFieldType(desc, i)
		if err != nil {
			return nil, "", err
		}
		if name == "void" {
			return nil, "", fmt.Errorf("method descriptor %q: void parameter", desc)
		}
		params = append(params, name)
		i = next
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("method descriptor %q: unterminated parameter list", desc)
	}
	ret, next, err := parseFieldType(desc, i+1)
	if err != nil {
		return nil, "", err
	}
	if next != len(desc) {
		return nil, "", fmt.Errorf("method descriptor %q: trailing data", desc)
	}
	return params, ret, nil
}

func parseFieldType(desc string, i int) (string, int, error) {
	dims := 0
	for i < len(desc) && desc[i] == '[' {
		dims++
		i++
	}
	if i >= len(desc) {
		return "", i, fmt.Errorf("descriptor %q: truncated type", desc)
	}
	var name string
	switch c := desc[i]; c {
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			return "", i, fmt.Errorf("descriptor %q: unterminated class type", desc)
		}
		name = string(ClassNameFromInternal(desc[i+1 : i+end]))
		i += end + 1
	default:
		p, ok := primitiveNames[c]
		if !ok {
			return "", i, fmt.Errorf("descriptor %q: bad type code %q", desc, c)
		}
		if p == "void" && dims > 0 {
			return "", i, fmt.Errorf("descriptor %q: array of void", desc)
		}
		name = p
		i++
	}
	return name + strings.Repeat("[]", dims), i, nil
}

// SignatureFromDescriptor builds a MethodSignature from class-file data.
func SignatureFromDescriptor(class ClassName, name, desc string) (MethodSignature, error) {
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return MethodSignature{}, err
	}
	return NewMethodSignature(class, name, params, ret), nil
}

// Descriptor renders the signature back into JVM descriptor form.
func (m MethodSignature) Descriptor() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.ParamTypes() {
		b.WriteString(typeDescriptor(p))
	}
	b.WriteByte(')')
	b.WriteString(typeDescriptor(m.Return))
	return b.String()
}

func typeDescriptor(javaType string) string {
	dims := 0
	for strings.HasSuffix(javaType, "[]") {
		dims++
		javaType = strings.TrimSuffix(javaType, "[]")
	}
	prefix := strings.Repeat("[", dims)
	if code, ok := primitiveCodes[javaType]; ok {
		return prefix + string(code)
	}
	return prefix + "L" + ClassName(javaType).InternalName() + ";"
}
