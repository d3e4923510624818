package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KyungWonPark/nifti"
	"github.com/klauspost/compress/gzip"
)

// NIfTI-1 header layout.
const (
	niftiHeaderSize = 348
	niftiDimOffset  = 40
	niftiMagicOff   = 344
)

var errInvalidHeader = errors.New("invalid NIfTI header")

// ReadNIfTIShape reads the header of a .nii or .nii.gz image and returns
// the size of every used dimension.
func ReadNIfTIShape(path string) ([]int, error) {
	shape, err := readNIfTIHeader(path)
	if err != nil {
		return nil, err
	}
	if err := loadNIfTI(path); err != nil {
		return nil, err
	}
	return shape, nil
}

// readNIfTIHeader validates the fixed NIfTI-1 header of path.
func readNIfTIHeader(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidHeader, err)
		}
		defer zr.Close()
		r = zr
	}

	hdr := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", errInvalidHeader, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(hdr) == niftiHeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(hdr) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: sizeof_hdr is %d", errInvalidHeader, binary.LittleEndian.Uint32(hdr))
	}

	magic := hdr[niftiMagicOff : niftiMagicOff+4]
	if !bytes.Equal(magic, []byte("n+1\x00")) && !bytes.Equal(magic, []byte("ni1\x00")) {
		return nil, fmt.Errorf("%w: magic %q", errInvalidHeader, magic)
	}

	var dim [8]int16
	for i := range dim {
		dim[i] = int16(order.Uint16(hdr[niftiDimOffset+2*i:]))
	}
	if dim[0] < 1 || dim[0] > 7 {
		return nil, fmt.Errorf("%w: dim[0] is %d", errInvalidHeader, dim[0])
	}
	shape := make([]int, dim[0])
	for i := range shape {
		if dim[i+1] <= 0 {
			return nil, fmt.Errorf("%w: dim[%d] is %d", errInvalidHeader, i+1, dim[i+1])
		}
		shape[i] = int(dim[i+1])
	}
	return shape, nil
}

// loadNIfTI decodes path with the nifti package and rejects headers it
// reads without spatial extent.
func loadNIfTI(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errInvalidHeader, r)
		}
	}()

	var img nifti.Nifti1Image
	img.LoadImage(path, false)
	dims := img.GetDims()
	if len(dims) < 3 || dims[0] == 0 || dims[1] == 0 || dims[2] == 0 {
		return fmt.Errorf("%w: no spatial dimensions", errInvalidHeader)
	}
	return nil
}
