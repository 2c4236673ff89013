// Package nifti reads and writes the minimal subset of NIfTI-1 the
// conversion path needs: 3-D volumes with scalar voxel types, optionally
// gzip-compressed.
package nifti

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

const (
	headerSize  = 348
	magicOffset = 344

	// NIfTI-1 datatype codes
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
)

// Volume is a 3-D scalar volume plus the raw header it was read with. The
// header is retained so a derived label volume can be written with the
// same spatial metadata.
type Volume struct {
	Dim    [3]int
	Data   []float64
	header []byte
	order  binary.ByteOrder
}

// Len returns the voxel count
func (v *Volume) Len() int { return v.Dim[0] * v.Dim[1] * v.Dim[2] }

// Read loads a .nii or .nii.gz volume
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if isGzipPath(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("reading nifti header: %w", err)
	}
	if magic := string(hdr[magicOffset : magicOffset+3]); magic != "n+1" && magic != "ni1" {
		return nil, fmt.Errorf("not a nifti-1 file (magic %q)", magic)
	}

	order, err := detectByteOrder(hdr)
	if err != nil {
		return nil, err
	}

	ndim := int(order.Uint16(hdr[40:42]))
	if ndim < 3 {
		return nil, fmt.Errorf("volume must be 3-dimensional, got %d dims", ndim)
	}
	var dim [3]int
	for i := 0; i < 3; i++ {
		dim[i] = int(order.Uint16(hdr[42+2*i : 44+2*i]))
		if dim[i] <= 0 {
			return nil, fmt.Errorf("invalid dimension %d: %d", i, dim[i])
		}
	}
	for i := 3; i < ndim; i++ {
		if extent := int(order.Uint16(hdr[42+2*i : 44+2*i])); extent > 1 {
			return nil, fmt.Errorf("4-d volumes are not supported")
		}
	}

	datatype := int(order.Uint16(hdr[70:72]))
	voxOffset := int(math.Float32frombits(order.Uint32(hdr[108:112])))
	if voxOffset < headerSize {
		voxOffset = headerSize + 4
	}
	if skip := voxOffset - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
			return nil, fmt.Errorf("seeking to voxel data: %w", err)
		}
	}

	count := dim[0] * dim[1] * dim[2]
	data, err := readVoxels(r, order, datatype, count)
	if err != nil {
		return nil, err
	}

	// Apply scaling when present; a zero slope means unscaled
	slope := float64(math.Float32frombits(order.Uint32(hdr[112:116])))
	inter := float64(math.Float32frombits(order.Uint32(hdr[116:120])))
	if slope != 0 && (slope != 1 || inter != 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	return &Volume{Dim: dim, Data: data, header: hdr, order: order}, nil
}

func detectByteOrder(hdr []byte) (binary.ByteOrder, error) {
	// dim[0] must be 1..7; read it both ways to detect endianness
	if d := binary.LittleEndian.Uint16(hdr[40:42]); d >= 1 && d <= 7 {
		return binary.LittleEndian, nil
	}
	if d := binary.BigEndian.Uint16(hdr[40:42]); d >= 1 && d <= 7 {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("cannot determine byte order")
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype, count int) ([]float64, error) {
	var width int
	switch datatype {
	case typeUint8:
		width = 1
	case typeInt16:
		width = 2
	case typeInt32, typeFloat32:
		width = 4
	case typeFloat64:
		width = 8
	default:
		return nil, fmt.Errorf("unsupported nifti datatype %d", datatype)
	}

	raw := make([]byte, count*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading voxel data: %w", err)
	}

	data := make([]float64, count)
	for i := 0; i < count; i++ {
		off := i * width
		switch datatype {
		case typeUint8:
			data[i] = float64(raw[off])
		case typeInt16:
			data[i] = float64(int16(order.Uint16(raw[off : off+2])))
		case typeInt32:
			data[i] = float64(int32(order.Uint32(raw[off : off+4])))
		case typeFloat32:
			data[i] = float64(math.Float32frombits(order.Uint32(raw[off : off+4])))
		case typeFloat64:
			data[i] = math.Float64frombits(order.Uint64(raw[off : off+8]))
		}
	}
	return data, nil
}

// WriteLabels writes a uint8 label volume reusing the spatial metadata of
// a previously read volume. Gzip compression follows the path extension.
func WriteLabels(path string, template *Volume, labels []uint8) error {
	if len(labels) != template.Len() {
		return fmt.Errorf("label count %d does not match template voxel count %d", len(labels), template.Len())
	}

	hdr := make([]byte, headerSize)
	copy(hdr, template.header)
	order := template.order
	order.PutUint16(hdr[70:72], typeUint8)               // datatype
	order.PutUint16(hdr[72:74], 8)                       // bitpix
	order.PutUint32(hdr[108:112], math.Float32bits(352)) // vox_offset
	order.PutUint32(hdr[112:116], math.Float32bits(1))   // scl_slope
	order.PutUint32(hdr[116:120], math.Float32bits(0))   // scl_inter

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if isGzipPath(path) {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(make([]byte, 4)); err != nil { // header extension flag
		return err
	}
	if _, err := w.Write(labels); err != nil {
		return fmt.Errorf("writing voxel data: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

// WriteUint8 writes a standalone uint8 volume with a default header. Test
// fixtures and synthesized masks use it.
func WriteUint8(path string, dim [3]int, voxels []uint8) error {
	hdr := make([]byte, headerSize)
	order := binary.LittleEndian
	order.PutUint32(hdr[0:4], headerSize) // sizeof_hdr
	order.PutUint16(hdr[40:42], 3)        // ndim
	for i := 0; i < 3; i++ {
		order.PutUint16(hdr[42+2*i:44+2*i], uint16(dim[i]))
	}
	for i := 3; i < 7; i++ {
		order.PutUint16(hdr[42+2*i:44+2*i], 1)
	}
	order.PutUint16(hdr[70:72], typeUint8)
	order.PutUint16(hdr[72:74], 8)
	for i := 0; i < 3; i++ { // unit voxel spacing
		order.PutUint32(hdr[80+4*i:84+4*i], math.Float32bits(1))
	}
	order.PutUint32(hdr[108:112], math.Float32bits(352))
	order.PutUint32(hdr[112:116], math.Float32bits(1))
	copy(hdr[magicOffset:], "n+1\x00")

	template := &Volume{Dim: dim, Data: make([]float64, dim[0]*dim[1]*dim[2]), header: hdr, order: order}
	return WriteLabels(path, template, voxels)
}

func isGzipPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
