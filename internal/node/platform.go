package node

import (
	"runtime"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"github.com/secchiware/secchiware/internal/store"
)

// Fingerprint gathers the running process's platform information, the Go
// analogue of the reference Node's platform.* introspection: OS/kernel via
// uname(2), machine architecture and processor from runtime, and the Go
// toolchain's own build metadata in place of python_build()/python_compiler().
func Fingerprint() store.PlatformInfo {
	info := store.PlatformInfo{
		Machine:               runtime.GOARCH,
		Processor:             runtime.GOARCH,
		RuntimeCompiler:       runtime.Compiler,
		RuntimeImplementation: "go",
		RuntimeVersion:        runtime.Version(),
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.OSSystem = cstr(uts.Sysname)
		info.OSRelease = cstr(uts.Release)
		info.OSVersion = cstr(uts.Version)
	} else {
		info.OSSystem = runtime.GOOS
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.RuntimeBuildNo = bi.Main.Version
		for _, s := range bi.Settings {
			if s.Key == "vcs.time" {
				info.RuntimeBuildDate = s.Value
			}
		}
	}

	return info
}

// cstr converts a fixed-size NUL-terminated char array (int8 on most
// unix.Utsname fields) into a Go string.
func cstr[T int8 | byte](b [65]T) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(b[i])
	}
	return string(out)
}
