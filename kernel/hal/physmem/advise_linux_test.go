package physmem

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"rvos/kernel/kfmt"
)

func TestAdviseHugePages(t *testing.T) {
	defer func() { madviseFn = unix.Madvise }()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	var gotAdvice int
	madviseFn = func(_ []byte, advice int) error {
		gotAdvice = advice
		return errors.New("EINVAL")
	}

	adviseHugePages(make([]byte, 8))

	if gotAdvice != unix.MADV_HUGEPAGE {
		t.Fatalf("expected MADV_HUGEPAGE advice; got %d", gotAdvice)
	}

	if !strings.Contains(buf.String(), "MADV_HUGEPAGE not honored") {
		t.Fatalf("expected failure to be logged; got %q", buf.String())
	}
}
