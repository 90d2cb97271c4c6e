package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"golang.org/x/sys/unix"
)

const (
	DefaultDir = "/var/run"

	pidFile  = "modemtemp.pid"
	lockFile = "modemtemp.lock"
	filePerm = 0o644
)

// Lock is a held singleton lock. The flock on the lock file is what
// excludes other instances; the pid file is informational.
type Lock struct {
	dir  string
	lock *os.File
}

// Acquire takes the daemon lock in dir. It fails with ErrAlreadyRunning
// when another process holds it.
func Acquire(dir string) (*Lock, error) {
	errFactory := errors.New()

	if dir == "" {
		dir = DefaultDir
	}

	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrLockFailed, err).WithData(dir)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			data := any(dir)
			if pid, ok := readPID(filepath.Join(dir, pidFile)); ok {
				data = pid
			}
			return nil, errFactory.New(errors.ErrAlreadyRunning).WithData(data)
		}
		return nil, errFactory.Wrap(errors.ErrLockFailed, err).WithData(dir)
	}

	// Holding the flock means any existing pid file is stale
	path := filepath.Join(dir, pidFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), filePerm); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, errFactory.Wrap(errors.ErrLockFailed, err).WithData(path)
	}

	return &Lock{dir: dir, lock: f}, nil
}

// Release removes the pid file and drops the flock. The lock file stays in
// place: unlinking it would let a waiting process lock an orphaned inode
// while another locks a fresh file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}

	var err error
	if rmErr := os.Remove(filepath.Join(l.dir, pidFile)); rmErr != nil && !os.IsNotExist(rmErr) {
		err = errors.New().Wrap(errors.ErrInternal, rmErr).WithData(pidFile)
	}

	unix.Flock(int(l.lock.Fd()), unix.LOCK_UN)
	l.lock.Close()
	l.lock = nil

	return err
}

// Running reports the pid of a live daemon owning the pid file in dir
func Running(dir string) (int, bool) {
	if dir == "" {
		dir = DefaultDir
	}

	pid, ok := readPID(filepath.Join(dir, pidFile))
	if !ok {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil && !errors.Is(err, os.ErrPermission) {
		return 0, false
	}

	return pid, true
}

func readPID(path string) (int, bool) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}
