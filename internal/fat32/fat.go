package fat32

// fatStatusKind classifies one FAT entry's raw 32-bit value, per
// spec.md 3: "free=0, reserved=1 or 0x0FFFFFF0-6, bad=0x0FFFFFF7,
// EOC=0x0FFFFFF8-F, anything else = next cluster."
type fatStatusKind int

const (
	statusFree fatStatusKind = iota
	statusReserved
	statusBad
	statusEoc
	statusData
)

// fatStatus is the decoded meaning of one FAT entry: exactly one kind
// holds, and Next is only meaningful when Kind == statusData.
type fatStatus struct {
	Kind fatStatusKind
	Next cluster
}

// decodeFatEntry classifies a raw 32-bit FAT table value.
func decodeFatEntry(raw uint32) fatStatus {
	switch {
	case raw == 0:
		return fatStatus{Kind: statusFree}
	case raw == 1 || (raw >= 0x0FFFFFF0 && raw <= 0x0FFFFFF6):
		return fatStatus{Kind: statusReserved}
	case raw == 0x0FFFFFF7:
		return fatStatus{Kind: statusBad}
	case raw >= 0x0FFFFFF8 && raw <= 0x0FFFFFFF:
		return fatStatus{Kind: statusEoc}
	default:
		return fatStatus{Kind: statusData, Next: clusterFromRaw(raw)}
	}
}
