// Package labelio loads label volumes from disk and persists pipeline results.
package labelio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"cellmatch/internal/models"
)

var npyMagic = []byte("\x93NUMPY")

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([<>|=])([iu])(\d)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// LoadNPY reads an integer .npy file
func LoadNPY(path string) (*models.LabeledVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open npy")
	}
	defer f.Close()

	vol, err := ReadNPY(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return vol, nil
}

// ReadNPY decodes a C-ordered integer array in .npy format, versions 1 to 3
func ReadNPY(r io.Reader) (*models.LabeledVolume, error) {
	preamble := make([]byte, 8)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, errors.Wrap(err, "npy preamble")
	}
	if !bytes.Equal(preamble[:6], npyMagic) {
		return nil, errors.New("not an npy file")
	}

	var headerLen int
	switch major := preamble[6]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "npy header length")
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "npy header length")
		}
		headerLen = int(n)
	default:
		return nil, errors.Errorf("unsupported npy version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "npy header")
	}
	order, dtype, shape, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}

	n := 1
	for _, s := range shape {
		n *= s
	}
	var vol *models.LabeledVolume
	switch dtype {
	case models.Int8:
		vol, err = readInts[int8](r, order, n, shape, dtype)
	case models.Uint8:
		vol, err = readInts[uint8](r, order, n, shape, dtype)
	case models.Int16:
		vol, err = readInts[int16](r, order, n, shape, dtype)
	case models.Uint16:
		vol, err = readInts[uint16](r, order, n, shape, dtype)
	case models.Int32:
		vol, err = readInts[int32](r, order, n, shape, dtype)
	case models.Uint32:
		vol, err = readInts[uint32](r, order, n, shape, dtype)
	case models.Int64:
		vol, err = readInts[int64](r, order, n, shape, dtype)
	case models.Uint64:
		vol, err = readInts[uint64](r, order, n, shape, dtype)
	}
	if err != nil {
		return nil, err
	}
	if err := vol.Validate(); err != nil {
		return nil, errors.Wrap(err, "npy contents")
	}
	return vol, nil
}

func readInts[T constraints.Integer](r io.Reader, order binary.ByteOrder, n int, shape []int, dtype models.DType) (*models.LabeledVolume, error) {
	buf := make([]T, n)
	if err := binary.Read(r, order, buf); err != nil {
		return nil, errors.Wrapf(err, "npy data (%d %s values)", n, dtype)
	}
	return models.FromSlice(buf, shape, dtype), nil
}

func parseHeader(h string) (binary.ByteOrder, models.DType, []int, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return nil, 0, nil, errors.Errorf("npy header has no integer descr: %s", strings.TrimSpace(h))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if m[1] == ">" {
		order = binary.BigEndian
	}
	dtype, err := dtypeFor(m[2], m[3])
	if err != nil {
		return nil, 0, nil, err
	}

	if f := fortranRe.FindStringSubmatch(h); f != nil && f[1] == "True" {
		return nil, 0, nil, errors.New("fortran-ordered npy arrays are not supported")
	}

	s := shapeRe.FindStringSubmatch(h)
	if s == nil {
		return nil, 0, nil, errors.Errorf("npy header has no shape: %s", strings.TrimSpace(h))
	}
	var shape []int
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil {
			return nil, 0, nil, errors.Wrapf(err, "npy shape %q", s[1])
		}
		shape = append(shape, v)
	}
	return order, dtype, shape, nil
}

func dtypeFor(kind, size string) (models.DType, error) {
	switch kind + size {
	case "i1":
		return models.Int8, nil
	case "u1":
		return models.Uint8, nil
	case "i2":
		return models.Int16, nil
	case "u2":
		return models.Uint16, nil
	case "i4":
		return models.Int32, nil
	case "u4":
		return models.Uint32, nil
	case "i8":
		return models.Int64, nil
	case "u8":
		return models.Uint64, nil
	default:
		return 0, errors.Errorf("unsupported npy dtype %s%s", kind, size)
	}
}

func descrFor(d models.DType) string {
	kind := "i"
	switch d {
	case models.Uint8, models.Uint16, models.Uint32, models.Uint64:
		kind = "u"
	}
	order := "<"
	if d.Size() == 1 {
		order = "|"
	}
	return fmt.Sprintf("%s%s%d", order, kind, d.Size())
}

// SaveNPY writes vol as a version 1.0 .npy file in its own dtype
func SaveNPY(path string, vol *models.LabeledVolume) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create npy")
	}
	w := bufio.NewWriter(f)
	if err := WriteNPY(w, vol); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrap(f.Close(), "close npy")
}

// WriteNPY encodes vol in .npy format, little endian
func WriteNPY(w io.Writer, vol *models.LabeledVolume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	dims := make([]string, len(vol.Shape))
	for i, s := range vol.Shape {
		dims[i] = strconv.Itoa(s)
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }",
		descrFor(vol.DType), strings.Join(dims, ", "))
	// magic, version and length take 10 bytes; pad so data starts on 64
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	cast := vol.AsType(vol.DType)
	switch vol.DType {
	case models.Int8:
		return writeInts[int8](w, cast.Data)
	case models.Uint8:
		return writeInts[uint8](w, cast.Data)
	case models.Int16:
		return writeInts[int16](w, cast.Data)
	case models.Uint16:
		return writeInts[uint16](w, cast.Data)
	case models.Int32:
		return writeInts[int32](w, cast.Data)
	case models.Uint32:
		return writeInts[uint32](w, cast.Data)
	case models.Uint64:
		return writeInts[uint64](w, cast.Data)
	default:
		return writeInts[int64](w, cast.Data)
	}
}

func writeInts[T constraints.Integer](w io.Writer, data []int64) error {
	buf := make([]T, len(data))
	for i, v := range data {
		buf[i] = T(v)
	}
	return binary.Write(w, binary.LittleEndian, buf)
}
