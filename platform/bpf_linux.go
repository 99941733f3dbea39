//go:build linux

package platform

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/rlimit"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/types"
)

// sizeof(struct bpf_perf_event_value): counter, enabled, running
const perfEventValueSize = 24

// Stack layout of the counting program, relative to the frame pointer
const (
	keyOff   = -record.KeySize             // struct key_t
	valueOff = keyOff - perfEventValueSize // struct bpf_perf_event_value
	pidOff   = keyOff + 4                  // key_t.pid
	nameOff  = keyOff + 8                  // key_t.name
)

type linuxProducer struct {
	tables  map[types.Counter]*bpfTable
	cleanup []func()
	logger  zerolog.Logger
}

type bpfTable struct {
	m *ebpf.Map
}

// Attach loads one counting program and table per counter and attaches it to a
// hardware perf event on every online CPU. Any failure releases what was
// already attached.
func Attach(cfg Config) (Producer, error) {
	if len(cfg.Counters) == 0 {
		return nil, fmt.Errorf("no counters to attach")
	}
	for _, counter := range cfg.Counters {
		if !counter.Valid() {
			return nil, fmt.Errorf("unknown %s", counter)
		}
	}
	if cfg.SamplePeriod == 0 {
		cfg.SamplePeriod = DefaultSamplePeriod
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock: %w", err)
	}

	cpus, err := OnlineCPUs()
	if err != nil {
		return nil, err
	}

	p := &linuxProducer{
		tables: make(map[types.Counter]*bpfTable),
		logger: cfg.Logger.With().Str("component", "producer").Logger(),
	}
	for _, counter := range cfg.Counters {
		if err := p.attachCounter(counter, cfg, cpus); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to attach %s: %w", counter, err)
		}
	}

	p.logger.Info().
		Int("cpus", len(cpus)).
		Uint64("sample_period", cfg.SamplePeriod).
		Int("counters", len(cfg.Counters)).
		Msg("Attached perf event counters")
	return p, nil
}

func (p *linuxProducer) attachCounter(counter types.Counter, cfg Config, cpus []int) error {
	if _, ok := p.tables[counter]; ok {
		return nil
	}

	m, err := ebpf.NewMap(tableSpec(counter, cfg.MaxEntries))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", counter.Table(), err)
	}
	p.cleanup = append(p.cleanup, func() { m.Close() })

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "on_" + strings.TrimSuffix(counter.Table(), "_count"),
		Type:         ebpf.PerfEvent,
		License:      "GPL",
		Instructions: countingProgram(m.FD()),
	})
	if err != nil {
		var verr *ebpf.VerifierError
		if errors.As(err, &verr) {
			p.logger.Debug().Msgf("verifier log: %+v", verr)
		}
		return fmt.Errorf("failed to load program: %w", err)
	}
	p.cleanup = append(p.cleanup, func() { prog.Close() })

	for _, cpu := range cpus {
		fd, err := openHardwareEvent(counter.PerfConfig(), cfg.SamplePeriod, cpu)
		if err != nil {
			return fmt.Errorf("cpu %d: %w", cpu, err)
		}
		p.cleanup = append(p.cleanup, func() {
			unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
			unix.Close(fd)
		})

		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, prog.FD()); err != nil {
			return fmt.Errorf("cpu %d: failed to attach program: %w", cpu, err)
		}
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			return fmt.Errorf("cpu %d: failed to enable perf event: %w", cpu, err)
		}
	}

	p.tables[counter] = &bpfTable{m: m}
	return nil
}

// tableSpec describes a counter's table. Entries of exited processes are never
// deleted by the program, so the kernel's LRU eviction keeps the table from
// filling up and keeps dead keys from being reported forever.
func tableSpec(counter types.Counter, maxEntries uint32) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       counter.Table(),
		Type:       ebpf.LRUHash,
		KeySize:    record.KeySize,
		ValueSize:  record.ValueSize,
		MaxEntries: maxEntries,
	}
}

func openHardwareEvent(config, period uint64, cpu int) (int, error) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: config,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: period,
		Bits:   unix.PerfBitDisabled,
	}
	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("perf_event_open: %w", err)
	}
	return fd, nil
}

// countingProgram stores the current perf counter reading under the running
// task's (cpu, pid, comm), skipping the idle task:
//
//	struct key_t key = {};
//	key.pid = bpf_get_current_pid_tgid() >> 32;
//	if (key.pid == 0) return 0;
//	key.cpu = bpf_get_smp_processor_id();
//	bpf_get_current_comm(&key.name, sizeof(key.name));
//	if (bpf_perf_prog_read_value(ctx, &val, sizeof(val))) return 0;
//	table.update(&key, &val.counter);
func countingProgram(tableFD int) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),

		asm.StoreImm(asm.RFP, keyOff, 0, asm.DWord),
		asm.StoreImm(asm.RFP, keyOff+8, 0, asm.DWord),
		asm.StoreImm(asm.RFP, keyOff+16, 0, asm.DWord),

		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.StoreMem(asm.RFP, pidOff, asm.R0, asm.Word),

		asm.FnGetSmpProcessorId.Call(),
		asm.StoreMem(asm.RFP, keyOff, asm.R0, asm.Word),

		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, nameOff),
		asm.Mov.Imm(asm.R2, record.NameLen),
		asm.FnGetCurrentComm.Call(),

		asm.Mov.Reg(asm.R1, asm.R6),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, valueOff),
		asm.Mov.Imm(asm.R3, perfEventValueSize),
		asm.FnPerfProgReadValue.Call(),
		asm.JNE.Imm(asm.R0, 0, "exit"),

		asm.LoadMapPtr(asm.R1, tableFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keyOff),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, valueOff), // val.counter is the first field
		asm.Mov.Imm(asm.R4, 0),        // BPF_ANY
		asm.FnMapUpdateElem.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}

func (p *linuxProducer) Table(counter types.Counter) (Table, error) {
	t, ok := p.tables[counter]
	if !ok {
		return nil, fmt.Errorf("counter %s is not attached", counter)
	}
	return t, nil
}

// Close releases resources in reverse order of acquisition
func (p *linuxProducer) Close() error {
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		p.cleanup[i]()
	}
	p.cleanup = nil
	p.tables = map[types.Counter]*bpfTable{}
	return nil
}

func (t *bpfTable) Entries() (record.Iterator, error) {
	return &mapIterator{it: t.m.Iterate()}, nil
}

type mapIterator struct {
	it    *ebpf.MapIterator
	key   []byte
	value []byte
}

func (m *mapIterator) Next() ([]byte, []byte, bool) {
	if !m.it.Next(&m.key, &m.value) {
		return nil, nil, false
	}
	return m.key, m.value, true
}

func (m *mapIterator) Err() error {
	return m.it.Err()
}
