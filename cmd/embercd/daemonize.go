package main

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// daemonizeEnvVar names the ancestor-duplicated file descriptor a forked
// child uses to signal successful initialization back to its parent
// (spec 6 "Environment": "a daemonization handshake over an
// ancestor-duplicated file descriptor signals success from child to
// parent so the launcher's exit code reflects initialization outcome").
const daemonizeEnvVar = "EMBERCD_STARTUP_PIPE_FD"

// notifyParentReady writes a single success byte to the handshake fd, if
// this process was launched with one, then closes it. A parent/launcher
// blocks reading this fd and exits 0 only once it sees the byte.
func notifyParentReady() error {
	fdStr := os.Getenv(daemonizeEnvVar)
	if fdStr == "" {
		return nil
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("daemonize: bad %s: %w", daemonizeEnvVar, err)
	}
	if _, err := unix.Write(fd, []byte{1}); err != nil {
		return fmt.Errorf("daemonize: notify parent: %w", err)
	}
	return unix.Close(fd)
}

// spawnDaemonized forks embercd into the background with a fresh pipe
// connecting the child's notifyParentReady call back to this process,
// and blocks until the child either signals readiness or exits.
func spawnDaemonized(args []string) (exitCode int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 1, fmt.Errorf("daemonize: pipe: %w", err)
	}
	readFD, writeFD := fds[0], fds[1]

	proc, err := os.StartProcess(os.Args[0], args, &os.ProcAttr{
		Env:   append(os.Environ(), fmt.Sprintf("%s=%d", daemonizeEnvVar, writeFD)),
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, os.NewFile(uintptr(writeFD), "startup-pipe")},
	})
	if err != nil {
		return 1, fmt.Errorf("daemonize: start child: %w", err)
	}
	unix.Close(writeFD)

	buf := make([]byte, 1)
	n, _ := unix.Read(readFD, buf)
	unix.Close(readFD)
	if n != 1 || buf[0] != 1 {
		state, waitErr := proc.Wait()
		if waitErr == nil && !state.Success() {
			return state.ExitCode(), nil
		}
		return 1, nil
	}
	return 0, nil
}
