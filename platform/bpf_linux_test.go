//go:build linux

package platform

import (
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/types"
)

func TestStackLayout(t *testing.T) {
	assert.Equal(t, -24, keyOff)
	assert.Equal(t, -48, valueOff)
	assert.Equal(t, -20, pidOff)
	assert.Equal(t, -16, nameOff)
	// the key must fit in the 512 byte BPF stack together with the perf value
	assert.LessOrEqual(t, -valueOff, 512)
	assert.Equal(t, record.KeySize+perfEventValueSize, -valueOff)
}

func TestCountingProgramShape(t *testing.T) {
	insns := countingProgram(3)

	var calls []asm.BuiltinFunc
	exits := 0
	for _, ins := range insns {
		if ins.IsBuiltinCall() {
			calls = append(calls, asm.BuiltinFunc(ins.Constant))
		}
		if ins.OpCode.JumpOp() == asm.Exit {
			exits++
		}
	}
	assert.Equal(t, []asm.BuiltinFunc{
		asm.FnGetCurrentPidTgid,
		asm.FnGetSmpProcessorId,
		asm.FnGetCurrentComm,
		asm.FnPerfProgReadValue,
		asm.FnMapUpdateElem,
	}, calls)
	assert.Equal(t, 1, exits)
	assert.Equal(t, "exit", insns[len(insns)-2].Symbol())
}

func TestTableRequiresAttachedCounter(t *testing.T) {
	p := &linuxProducer{tables: map[types.Counter]*bpfTable{}}
	_, err := p.Table(types.CounterCacheMisses)
	require.Error(t, err)
	assert.NoError(t, p.Close())
}

func TestTableSpecDropsLeastRecentlyUpdated(t *testing.T) {
	spec := tableSpec(types.CounterInstructions, DefaultMaxEntries)

	assert.Equal(t, ebpf.LRUHash, spec.Type)
	assert.Equal(t, "instr_count", spec.Name)
	assert.Equal(t, uint32(record.KeySize), spec.KeySize)
	assert.Equal(t, uint32(record.ValueSize), spec.ValueSize)
	assert.Equal(t, uint32(DefaultMaxEntries), spec.MaxEntries)
}

func TestAttachRejectsUnknownCounter(t *testing.T) {
	_, err := Attach(Config{Counters: []types.Counter{types.Counter(0)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}
