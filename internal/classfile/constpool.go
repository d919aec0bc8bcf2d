package classfile

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

type cpEntry struct {
	tag  byte
	a, b uint16
	str  string
}

type constPool []cpEntry

func readConstantPool(r *reader) (constPool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	if count == 0 {
		return nil, fmt.Errorf("empty constant pool")
	}
	cp := make(constPool, count)
	for i := 1; i < count; i++ {
		e := cpEntry{tag: r.u1()}
		switch e.tag {
		case tagUtf8:
			n := int(r.u2())
			str, err := decodeModifiedUTF8(r.bytes(n))
			if err != nil && r.err == nil {
				return nil, fmt.Errorf("constant pool entry %d: %w", i, err)
			}
			e.str = str
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.a = r.u2()
		case tagInteger, tagFloat:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			e.a = r.u2()
			e.b = r.u2()
		case tagMethodHandle:
			e.a = uint16(r.u1())
			e.b = r.u2()
		default:
			if r.err == nil {
				return nil, fmt.Errorf("constant pool entry %d: unknown tag %d", i, e.tag)
			}
		}
		if r.err != nil {
			return nil, fmt.Errorf("constant pool entry %d: %w", i, r.err)
		}
		cp[i] = e
		if e.tag == tagLong || e.tag == tagDouble {
			// 8-byte constants take two slots.
			i++
		}
	}
	return cp, nil
}

func (cp constPool) entry(idx uint16, tags ...byte) (cpEntry, error) {
	if idx == 0 || int(idx) >= len(cp) {
		return cpEntry{}, fmt.Errorf("constant pool index %d out of range", idx)
	}
	e := cp[idx]
	for _, t := range tags {
		if e.tag == t {
			return e, nil
		}
	}
	return cpEntry{}, fmt.Errorf("constant pool index %d: tag %d, want %v", idx, e.tag, tags)
}

func (cp constPool) utf8(idx uint16) (string, error) {
	e, err := cp.entry(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	return e.str, nil
}

// className resolves a Class entry. Array descriptors map to java.lang.Object,
// which is where their methods (clone, getClass, ...) are declared.
func (cp constPool) className(idx uint16) (jvm.ClassName, error) {
	e, err := cp.entry(idx, tagClass)
	if err != nil {
		return "", err
	}
	name, err := cp.utf8(e.a)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(name, "[") {
		return jvm.ObjectClass, nil
	}
	return jvm.ClassNameFromInternal(name), nil
}

func (cp constPool) nameAndType(idx uint16) (string, string, error) {
	e, err := cp.entry(idx, tagNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := cp.utf8(e.a)
	if err != nil {
		return "", "", err
	}
	desc, err := cp.utf8(e.b)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// methodRef resolves a Methodref or InterfaceMethodref to its statically
// declared signature.
func (cp constPool) methodRef(idx uint16) (jvm.MethodSignature, error) {
	e, err := cp.entry(idx, tagMethodref, tagInterfaceMethodref)
	if err != nil {
		return jvm.MethodSignature{}, err
	}
	class, err := cp.className(e.a)
	if err != nil {
		return jvm.MethodSignature{}, err
	}
	name, desc, err := cp.nameAndType(e.b)
	if err != nil {
		return jvm.MethodSignature{}, err
	}
	return jvm.SignatureFromDescriptor(class, name, desc)
}

var errBadUTF8 = errors.New("invalid modified UTF-8")

// decodeModifiedUTF8 decodes the class-file string encoding: NUL is the two
// bytes C0 80 and supplementary characters are surrogate pairs of three
// bytes each.
func decodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c != 0 && c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return "", errBadUTF8
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return "", errBadUTF8
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", errBadUTF8
		}
	}
	return string(utf16.Decode(units)), nil
}
