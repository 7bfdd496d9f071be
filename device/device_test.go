package device

import (
	"strings"
	"testing"
)

func TestSortByMemory(t *testing.T) {
	devices := []Device{
		{Kind: KindCUDA, Ordinal: 0, Name: "small", TotalMem: 4 << 30},
		{Kind: KindCUDA, Ordinal: 1, Name: "large", TotalMem: 16 << 30},
		{Kind: KindCUDA, Ordinal: 2, Name: "medium", TotalMem: 8 << 30},
	}
	sortByMemory(devices)

	want := []string{"large", "medium", "small"}
	for i, name := range want {
		if devices[i].Name != name {
			t.Errorf("devices[%d].Name = %q, want %q", i, devices[i].Name, name)
		}
	}
}

func TestSortByMemoryStable(t *testing.T) {
	devices := []Device{
		{Kind: KindCUDA, Ordinal: 0, TotalMem: 8 << 30},
		{Kind: KindCUDA, Ordinal: 1, TotalMem: 8 << 30},
	}
	sortByMemory(devices)
	if devices[0].Ordinal != 0 || devices[1].Ordinal != 1 {
		t.Errorf("equal-memory devices should keep enumeration order, got %d then %d",
			devices[0].Ordinal, devices[1].Ordinal)
	}
}

func TestOrderAlwaysHasCPU(t *testing.T) {
	devices := Order()
	if len(devices) == 0 {
		t.Fatal("Order() returned no devices")
	}
	last := devices[len(devices)-1]
	if last.Kind != KindCPU {
		t.Errorf("last device kind = %v, want cpu fallback", last.Kind)
	}
	if last.Name == "" {
		t.Error("cpu device should carry a description")
	}
}

func TestRunContextDescribe(t *testing.T) {
	rc := RunContext{Primary: Device{Kind: KindCPU, Name: "test cpu"}}
	if got := rc.Describe(); !strings.HasPrefix(got, "=> using CPU") {
		t.Errorf("Describe() = %q, want CPU prefix", got)
	}
	if rc.GPUCount() != 0 {
		t.Errorf("GPUCount() = %d, want 0", rc.GPUCount())
	}

	rc = RunContext{
		Primary:  Device{Kind: KindCUDA, Ordinal: 0, TotalMem: 8 << 30},
		Replicas: []Device{{Kind: KindCUDA, Ordinal: 1, TotalMem: 4 << 30}},
	}
	if got := rc.Describe(); got != "=> using 2 GPU(s)" {
		t.Errorf("Describe() = %q, want \"=> using 2 GPU(s)\"", got)
	}
}
