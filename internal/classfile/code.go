package classfile

import (
	"fmt"
	"iter"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Opcodes the scanner needs to know by name.
const (
	opTableSwitch     = 0xaa
	opLookupSwitch    = 0xab
	opInvokeVirtual   = 0xb6
	opInvokeSpecial   = 0xb7
	opInvokeStatic    = 0xb8
	opInvokeInterface = 0xb9
	opInvokeDynamic   = 0xba
	opWide            = 0xc4
	opIinc            = 0x84
)

// operandLen maps each fixed-length opcode to its operand byte count; -1
// marks opcodes that are undefined in class files. Switches and wide are
// handled separately.
var operandLen = func() [256]int {
	var t [256]int
	for op := range t {
		t[op] = -1
	}
	set := func(from, to, n int) {
		for op := from; op <= to; op++ {
			t[op] = n
		}
	}
	set(0x00, 0x0f, 0) // nop .. dconst_1
	t[0x10] = 1        // bipush
	t[0x11] = 2        // sipush
	t[0x12] = 1        // ldc
	set(0x13, 0x14, 2) // ldc_w, ldc2_w
	set(0x15, 0x19, 1) // iload .. aload
	set(0x1a, 0x35, 0) // iload_0 .. saload
	set(0x36, 0x3a, 1) // istore .. astore
	set(0x3b, 0x83, 0) // istore_0 .. lxor
	t[opIinc] = 2
	set(0x85, 0x98, 0) // conversions, compares
	set(0x99, 0xa8, 2) // if*, goto, jsr
	t[0xa9] = 1        // ret
	set(0xac, 0xb1, 0) // returns
	set(0xb2, 0xb5, 2) // field access
	set(opInvokeVirtual, opInvokeStatic, 2)
	t[opInvokeInterface] = 4
	t[opInvokeDynamic] = 4
	t[0xbb] = 2        // new
	t[0xbc] = 1        // newarray
	t[0xbd] = 2        // anewarray
	set(0xbe, 0xbf, 0) // arraylength, athrow
	set(0xc0, 0xc1, 2) // checkcast, instanceof
	set(0xc2, 0xc3, 0) // monitorenter, monitorexit
	t[0xc5] = 3        // multianewarray
	set(0xc6, 0xc7, 2) // ifnull, ifnonnull
	set(0xc8, 0xc9, 4) // goto_w, jsr_w
	return t
}()

var invokeKinds = map[byte]jvm.InvokeKind{
	opInvokeVirtual:   jvm.InvokeVirtual,
	opInvokeSpecial:   jvm.InvokeSpecial,
	opInvokeStatic:    jvm.InvokeStatic,
	opInvokeInterface: jvm.InvokeInterface,
}

// codeBody is a lazily decoded bytecode array.
type codeBody struct {
	code []byte
	cp   constPool
	err  error
}

// Instructions implements jvm.Body. Malformed bytecode is yielded as an
// error after every instruction decoded before it.
func (b *codeBody) Instructions() iter.Seq2[jvm.Instruction, error] {
	return func(yield func(jvm.Instruction, error) bool) {
		if b.err != nil {
			yield(jvm.Instruction{}, b.err)
			return
		}
		pc := 0
		for pc < len(b.code) {
			ins, next, err := b.decode(pc)
			if err != nil {
				yield(jvm.Instruction{Offset: pc, Opcode: b.code[pc]}, fmt.Errorf("offset %d: %w", pc, err))
				return
			}
			if !yield(ins, nil) {
				return
			}
			pc = next
		}
	}
}

func (b *codeBody) decode(pc int) (jvm.Instruction, int, error) {
	op := b.code[pc]
	ins := jvm.Instruction{Offset: pc, Opcode: op}
	r := &reader{buf: b.code, pos: pc + 1}

	switch op {
	case opTableSwitch:
		r.skip(padding(pc))
		r.skip(4) // default
		low := int32(r.u4())
		high := int32(r.u4())
		if r.err == nil && high < low {
			return ins, 0, fmt.Errorf("tableswitch: high %d < low %d", high, low)
		}
		r.skip(int(int64(high)-int64(low)+1) * 4)
	case opLookupSwitch:
		r.skip(padding(pc))
		r.skip(4) // default
		pairs := int32(r.u4())
		if r.err == nil && pairs < 0 {
			return ins, 0, fmt.Errorf("lookupswitch: negative pair count")
		}
		r.skip(int(pairs) * 8)
	case opWide:
		if r.u1() == opIinc {
			r.skip(4)
		} else {
			r.skip(2)
		}
	default:
		n := operandLen[op]
		if n < 0 {
			return ins, 0, fmt.Errorf("undefined opcode 0x%02x", op)
		}
		if kind, ok := invokeKinds[op]; ok {
			idx := r.u2()
			if r.err != nil {
				break
			}
			target, err := b.cp.methodRef(idx)
			if err != nil {
				return ins, 0, fmt.Errorf("invoke operand: %w", err)
			}
			ins.Invoke = &jvm.InvokeRef{Kind: kind, Target: target}
			r.skip(n - 2)
		} else {
			r.skip(n)
		}
	}
	if r.err != nil {
		return ins, 0, fmt.Errorf("opcode 0x%02x: %w", op, r.err)
	}
	return ins, r.pos, nil
}

// padding returns the number of alignment bytes after a switch opcode at pc.
func padding(pc int) int {
	return (4 - (pc+1)%4) % 4
}
