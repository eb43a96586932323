package transform

import "github.com/AeonDave/stringfog/internal/classfile"

// Calls compilers use to match a string switch arm against its label.
var labelEquals = map[string]bool{
	"java/lang/String.equals(Ljava/lang/Object;)Z":                                   true,
	"kotlin/jvm/internal/Intrinsics.areEqual(Ljava/lang/Object;Ljava/lang/Object;)Z": true,
}

// switchLabels returns the indexes into insns of the ldc instructions that
// load case labels of a switch on strings.
//
// javac and kotlinc compile such a switch to a String.hashCode call feeding
// a lookupswitch or tableswitch. Every case target of that switch starts a
// chain of label checks
//
//	aload selector; ldc label; invoke equals; ifeq next
//
// where next is the following check for a colliding hash, or the default.
// Only loads found by walking these chains from the case targets are
// labels; string comparisons elsewhere in the method are not.
func switchLabels(pool *classfile.Pool, code []byte, insns []classfile.Instruction) map[int]bool {
	var arms []int
	defaults := make(map[int]bool)
	for i := 0; i+1 < len(insns); i++ {
		if insns[i].Op == classfile.OpInvokevirtual && insns[i+1].IsSwitch() &&
			methodIs(pool, code, insns[i], "java/lang/String.hashCode()I") {
			targets := insns[i+1].Targets(code)
			defaults[targets[0]] = true
			arms = append(arms, targets[1:]...)
		}
	}
	if len(arms) == 0 {
		return nil
	}
	at := make(map[int]int, len(insns))
	for i, in := range insns {
		at[in.Offset] = i
	}
	labels := make(map[int]bool)
	seen := make(map[int]bool)
	for len(arms) > 0 {
		off := arms[len(arms)-1]
		arms = arms[:len(arms)-1]
		if seen[off] || defaults[off] {
			continue
		}
		seen[off] = true
		i, ok := at[off]
		if !ok || i+3 >= len(insns) {
			continue
		}
		load, ldc, call, cond := insns[i], insns[i+1], insns[i+2], insns[i+3]
		if !isAload(load.Op) || (ldc.Op != classfile.OpLdc && ldc.Op != classfile.OpLdcW) {
			continue
		}
		if call.Op != classfile.OpInvokevirtual && call.Op != classfile.OpInvokestatic {
			continue
		}
		if !labelEquals[methodKey(pool, code, call)] {
			continue
		}
		switch cond.Op {
		case classfile.OpIfeq:
			// A mismatch jumps to the next check.
			arms = append(arms, cond.Targets(code)...)
		case classfile.OpIfne:
			// A mismatch falls through to the next check.
			if i+4 < len(insns) {
				arms = append(arms, insns[i+4].Offset)
			}
		default:
			continue
		}
		labels[i+1] = true
	}
	return labels
}

func isAload(op byte) bool {
	return op == classfile.OpAload || (op >= classfile.OpAload0 && op <= classfile.OpAload3)
}

func methodKey(pool *classfile.Pool, code []byte, in classfile.Instruction) string {
	owner, name, desc, err := pool.MemberRef(in.Index(code))
	if err != nil {
		return ""
	}
	return owner + "." + name + desc
}

func methodIs(pool *classfile.Pool, code []byte, in classfile.Instruction, key string) bool {
	return methodKey(pool, code, in) == key
}
