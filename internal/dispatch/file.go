package dispatch

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"github.com/phnomcobra/stembot/internal/types"
)

// loadFile reads form.Path, compressing with zlib level 9 and base64-
// encoding the result, plus an MD5 hex digest and byte size — grounded on
// original_source/stembot/adapter/file.py's load_file_to_form, using
// klauspost/compress's zlib instead of the stdlib compress/zlib (SPEC_FULL.md
// domain stack).
func (d *Dispatcher) loadFile(form types.Form) types.Form {
	data, err := os.ReadFile(form.Path)
	if err != nil {
		form.Error = err.Error()
		form.Size = nil
		form.Md5sum = ""
		return form
	}

	size := len(data)
	form.Size = &size
	sum := md5.Sum(data)
	form.Md5sum = hex.EncodeToString(sum[:])

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		form.Error = err.Error()
		return form
	}
	if _, err := w.Write(data); err != nil {
		form.Error = err.Error()
		return form
	}
	if err := w.Close(); err != nil {
		form.Error = err.Error()
		return form
	}

	form.B64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	d.logByteSize(form.Path, size)
	return form
}

// writeFile reverses loadFile's encoding and writes the result to
// form.Path, grounded on adapter/file.go's write_file_from_form.
func (d *Dispatcher) writeFile(form types.Form) types.Form {
	raw, err := base64.StdEncoding.DecodeString(form.B64)
	if err != nil {
		form.Error = fmt.Sprintf("decoding base64: %v", err)
		return form
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		form.Error = fmt.Sprintf("decompressing: %v", err)
		return form
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		form.Error = fmt.Sprintf("decompressing: %v", err)
		return form
	}
	if err := os.WriteFile(form.Path, data, 0o644); err != nil {
		form.Error = err.Error()
		return form
	}
	return form
}
