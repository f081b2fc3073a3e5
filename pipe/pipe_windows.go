package pipe

import (
	"io"
	"os"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procCancelSynchronousIo = modkernel32.NewProc("CancelSynchronousIo")
)

// cancelPollInterval is how often EndRead retries CancelSynchronousIo while
// the background reader has not yet stopped. The reader may be between two
// reads when the first cancellation arrives.
const cancelPollInterval = 10 * time.Millisecond

func createPipe(inheritRead, inheritWrite bool) (r, w *os.File, err error) {
	sa := &windows.SecurityAttributes{InheritHandle: 1}
	sa.Length = uint32(unsafe.Sizeof(*sa))

	var rh, wh windows.Handle
	if err := windows.CreatePipe(&rh, &wh, sa, 0); err != nil {
		return nil, nil, &OSError{Op: "CreatePipe", Err: err}
	}
	for _, end := range []struct {
		h       windows.Handle
		inherit bool
	}{{rh, inheritRead}, {wh, inheritWrite}} {
		if end.inherit {
			continue
		}
		if err := windows.SetHandleInformation(end.h, windows.HANDLE_FLAG_INHERIT, 0); err != nil {
			windows.CloseHandle(rh)
			windows.CloseHandle(wh)
			return nil, nil, &OSError{Op: "SetHandleInformation", Err: err}
		}
	}
	return os.NewFile(uintptr(rh), "|0"), os.NewFile(uintptr(wh), "|1"), nil
}

// readFile issues a synchronous ReadFile so that the read can be cancelled
// with CancelSynchronousIo. A broken pipe means every write end is closed.
func readFile(f *os.File, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n uint32
	err := windows.ReadFile(windows.Handle(f.Fd()), buf, &n, nil)
	switch err {
	case nil:
		if n == 0 {
			return 0, io.EOF
		}
		return int(n), nil
	case windows.ERROR_BROKEN_PIPE, windows.ERROR_HANDLE_EOF:
		return int(n), io.EOF
	case windows.ERROR_OPERATION_ABORTED:
		return int(n), errInterrupted
	case windows.ERROR_INVALID_HANDLE:
		return int(n), os.ErrClosed
	}
	return int(n), err
}

func flushFile(f *os.File) error {
	if err := windows.FlushFileBuffers(windows.Handle(f.Fd())); err != nil {
		return &OSError{Op: "FlushFileBuffers", Err: err}
	}
	return nil
}

// interrupter cancels a blocked background read by calling
// CancelSynchronousIo on the reader's OS thread.
type interrupter struct {
	thread windows.Handle
}

// enter pins the reader to its OS thread and opens a real handle to it;
// GetCurrentThread only returns a pseudo handle.
func (i *interrupter) enter() error {
	runtime.LockOSThread()
	self := windows.CurrentProcess()
	err := windows.DuplicateHandle(self, windows.CurrentThread(), self, &i.thread, 0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

func (i *interrupter) leave() {
	runtime.UnlockOSThread()
}

// release closes the thread handle once the reader has stopped.
func (i *interrupter) release() {
	if i.thread != 0 {
		windows.CloseHandle(i.thread)
		i.thread = 0
	}
}

func (i *interrupter) interrupt(p *Pipe, done <-chan struct{}) {
	if i.thread == 0 {
		return
	}
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		// ERROR_NOT_FOUND just means no read is pending right now
		procCancelSynchronousIo.Call(uintptr(i.thread))
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
