package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/hyperjump/shirabe/internal/apperr"
)

// On-disk layout, all little-endian:
//
//	magic   [8]byte "SHRBVEC1"
//	version uint32
//	metric  uint32
//	dim     uint32
//	count   uint64
//	data    [count*dim]float32 (prepared vectors, row-major)
//	crc     uint32 (IEEE over every preceding byte)
const (
	fileMagic   = "SHRBVEC1"
	fileVersion = 1
	headerSize  = 8 + 4 + 4 + 4 + 8
	trailerSize = 4
)

// WriteFile writes the index to path, replacing any existing file.
func (f *FlatIndex) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageArtifact, path, err)
	}
	if err := f.encode(file); err != nil {
		_ = file.Close()
		return apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageArtifact, path, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return file.Close()
}

func (f *FlatIndex) encode(w io.Writer) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, crc))

	header := make([]byte, headerSize)
	copy(header, fileMagic)
	binary.LittleEndian.PutUint32(header[8:], fileVersion)
	binary.LittleEndian.PutUint32(header[12:], uint32(f.metric))
	binary.LittleEndian.PutUint32(header[16:], uint32(f.dim))
	binary.LittleEndian.PutUint64(header[20:], uint64(f.n))
	if _, err := bw.Write(header); err != nil {
		return err
	}

	var buf [4]byte
	for _, x := range f.data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], crc.Sum32())
	_, err := w.Write(buf[:])
	return err
}

// ReadFile loads an index written by WriteFile. A missing file yields
// ErrNoArtifact; any structural problem yields ErrCorruptArtifact.
func ReadFile(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.ErrNoArtifact, apperr.StageArtifact, path, err)
		}
		return nil, apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageArtifact, path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageArtifact, path, err)
	}
	idx, err := decode(file, info.Size())
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageArtifact, path, err)
	}
	return idx, nil
}

func decode(r io.Reader, size int64) (*FlatIndex, error) {
	if size < headerSize+trailerSize {
		return nil, fmt.Errorf("file too short (%d bytes)", size)
	}
	crc := crc32.NewIEEE()
	br := bufio.NewReader(r)
	tee := io.TeeReader(br, crc)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(tee, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(header[:8]) != fileMagic {
		return nil, errors.New("bad magic")
	}
	if v := binary.LittleEndian.Uint32(header[8:]); v != fileVersion {
		return nil, fmt.Errorf("unsupported version %d", v)
	}
	metric := Metric(binary.LittleEndian.Uint32(header[12:]))
	if !metric.Valid() {
		return nil, fmt.Errorf("unknown metric %d", uint32(metric))
	}
	dim := int64(binary.LittleEndian.Uint32(header[16:]))
	count := binary.LittleEndian.Uint64(header[20:])
	if dim == 0 || count == 0 {
		return nil, fmt.Errorf("empty index (dim=%d count=%d)", dim, count)
	}
	payload := size - headerSize - trailerSize
	if count > uint64(payload)/uint64(dim*4) || int64(count)*dim*4 != payload {
		return nil, fmt.Errorf("size %d does not match %d vectors of %d dimensions", size, count, dim)
	}

	data := make([]float32, int64(count)*dim)
	var buf [4]byte
	for i := range data {
		if _, err := io.ReadFull(tee, buf[:]); err != nil {
			return nil, fmt.Errorf("read vectors: %w", err)
		}
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	want := crc.Sum32()
	if _, err := io.ReadFull(br, buf[:]); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	if got := binary.LittleEndian.Uint32(buf[:]); got != want {
		return nil, fmt.Errorf("checksum mismatch: stored %08x, computed %08x", got, want)
	}
	return &FlatIndex{metric: metric, dim: int(dim), n: int(count), data: data}, nil
}
