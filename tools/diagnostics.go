package tools

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/qrwc/gateway/errors"
)

// processHealth is the OS-level snapshot manage_connection's diagnose
// action reports alongside connection/breaker health, so diagnose stays
// useful even when the wire is down.
type processHealth struct {
	MemoryTotalBytes     uint64  `json:"memoryTotalBytes"`
	MemoryAvailableBytes uint64  `json:"memoryAvailableBytes"`
	MemoryUsedPercent    float64 `json:"memoryUsedPercent"`
}

func getProcessHealth() (processHealth, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return processHealth{}, errors.Wrap(err, "read memory stats")
	}
	return processHealth{
		MemoryTotalBytes:     v.Total,
		MemoryAvailableBytes: v.Available,
		MemoryUsedPercent:    v.UsedPercent,
	}, nil
}
