package veo

import (
	"os"
	"strconv"
	"strings"

	"github.com/veoffload/veo-host/internal/logging"
)

// envNodeID reads VE_NODE_NUMBER, the VE node CreateProc targets when
// ProcOptions.NodeID is left at its -1 "use default" sentinel.
func envNodeID() int {
	return envInt("VE_NODE_NUMBER", 0)
}

// envCoreID reads VE_CORE_NUMBER, the core CreateProc pins its main context
// to when ProcOptions.CoreID is left at its -1 "use default" sentinel.
func envCoreID() int {
	return envInt("VE_CORE_NUMBER", -1)
}

// envNodeList parses _VENODELIST, a space-separated list of VE node numbers
// a multi-node launcher may restrict placement to. An empty list means no
// restriction.
func envNodeList() []int {
	raw := os.Getenv("_VENODELIST")
	if raw == "" {
		return nil
	}
	var nodes []int
	for _, tok := range strings.Fields(raw) {
		if n, err := strconv.Atoi(tok); err == nil {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// envWorkerBinary reads VEORUN_BIN, the worker binary CreateProc launches
// when ProcOptions.BinaryPath is empty.
func envWorkerBinary() string {
	return os.Getenv("VEORUN_BIN")
}

// envSendFragmentSize and envRecvFragmentSize read VEO_SENDFRAG/VEO_RECVFRAG,
// which override constants.DefaultFragmentSize for AsyncWriteMem and
// AsyncReadMem respectively. 0 means "no override". The mid-size split in
// constants.FragmentSize applies whether or not an override is set.
func envSendFragmentSize() int {
	return envInt("VEO_SENDFRAG", 0)
}

func envRecvFragmentSize() int {
	return envInt("VEO_RECVFRAG", 0)
}

// envLogLevel reads VEO_LOG_DEBUG: any non-empty, non-zero value selects
// debug-level logging; otherwise the default (info) level is used.
func envLogLevel() logging.LogLevel {
	v := strings.TrimSpace(os.Getenv("VEO_LOG_DEBUG"))
	if v != "" && v != "0" {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
