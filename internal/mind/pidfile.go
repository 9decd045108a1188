// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	ps "github.com/mitchellh/go-ps"
)

func pidFilePath(stateDir string) string {
	return stateDir + "/mind.pid"
}

func readPIDFile(stateDir string) (int, bool) {
	data, err := os.ReadFile(pidFilePath(stateDir))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writePIDFile(stateDir string, pid int) error {
	return os.WriteFile(pidFilePath(stateDir), []byte(strconv.Itoa(pid)), 0644)
}

func removePIDFile(stateDir string) {
	os.Remove(pidFilePath(stateDir))
}

// processAlive reports whether pid exists (kill(pid, 0) liveness test).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// looksLikeMindProcess inspects pid's command line to confirm it really
// is a mind child (references the expected entrypoint) before the
// supervisor kills it. This guards against a reused PID belonging to an
// unrelated process landing on the same number as a stale mind.pid.
func looksLikeMindProcess(pid int, entrypointHint string) bool {
	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return false
	}
	if entrypointHint == "" {
		// No hint to check against: identity is never confirmed.
		return false
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false
	}
	return strings.Contains(string(cmdline), entrypointHint)
}

// reconcileStalePID implements §4.8.1: if a pid file exists, check
// whether the recorded process is alive and actually a mind process
// before killing its process group and removing the file. It returns
// nothing and logs nothing; every outcome is silent.
func reconcileStalePID(stateDir, entrypointHint string) {
	pid, ok := readPIDFile(stateDir)
	if !ok {
		removePIDFile(stateDir)
		return
	}
	if !processAlive(pid) {
		removePIDFile(stateDir)
		return
	}
	if !looksLikeMindProcess(pid, entrypointHint) {
		// Alive, but not confirmed to be our mind: never kill PID 1 or
		// an unrelated process that happens to have reused this PID.
		return
	}
	syscall.Kill(-pid, syscall.SIGKILL)
	removePIDFile(stateDir)
}

// findPortOwner resolves the PID currently listening on port by walking
// /proc/net/tcp and /proc/net/tcp6 for a socket in LISTEN state on that
// port, then matching its inode to a process's open file descriptors.
// go-ps has no socket-table API, so this half is necessarily hand-rolled
// against /proc; mitchellh/go-ps is used for the process lookup in
// looksLikeMindProcess above.
func findPortOwner(port int) (int, bool) {
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		if pid, ok := scanProcNetTCP(path, port); ok {
			return pid, true
		}
	}
	return 0, false
}

const tcpListen = "0A"

func scanProcNetTCP(path string, port int) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	wantHex := fmt.Sprintf("%04X", port)
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	var inode string
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		localAddr := fields[1] // "ADDR:PORT" hex
		state := fields[3]
		parts := strings.Split(localAddr, ":")
		if len(parts) != 2 || state != tcpListen {
			continue
		}
		if strings.EqualFold(parts[1], wantHex) {
			inode = fields[9]
			break
		}
	}
	if inode == "" {
		return 0, false
	}
	return findPIDByInode(inode)
}

func findPIDByInode(inode string) (int, bool) {
	procs, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	want := "socket:[" + inode + "]"
	for _, entry := range procs {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := "/proc/" + entry.Name() + "/fd"
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(fdDir + "/" + fd.Name())
			if err != nil {
				continue
			}
			if link == want {
				return pid, true
			}
		}
	}
	return 0, false
}

