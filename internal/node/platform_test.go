package node

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_PopulatesRuntimeFields(t *testing.T) {
	info := Fingerprint()
	assert.Equal(t, runtime.GOARCH, info.Machine)
	assert.Equal(t, runtime.Compiler, info.RuntimeCompiler)
	assert.Equal(t, "go", info.RuntimeImplementation)
	assert.Equal(t, runtime.Version(), info.RuntimeVersion)
	assert.NotEmpty(t, info.OSSystem)
}

func TestCstr_StopsAtNUL(t *testing.T) {
	var buf [65]byte
	copy(buf[:], "linux")
	assert.Equal(t, "linux", cstr(buf))
}

func TestCstr_Int8Variant(t *testing.T) {
	var buf [65]int8
	for i, c := range "darwin" {
		buf[i] = int8(c)
	}
	assert.Equal(t, "darwin", cstr(buf))
}

func TestCstr_EmptyArray(t *testing.T) {
	var buf [65]byte
	assert.Equal(t, "", cstr(buf))
}
