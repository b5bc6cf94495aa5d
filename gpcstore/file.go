package gpcstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/klauspost/reedsolomon"
)

// ErrCorrupt is wrapped by errors from [*FileStore.Load]
// when the file cannot be decoded or repaired.
var ErrCorrupt = errors.New("corrupt state file")

var fileMagic = [4]byte{'G', 'P', 'C', 'S'}

// magic, data shards, parity shards, blob length, shard size,
// then a CRC-32 of those fields.
const (
	fileHeaderFieldsSize = 4 + 1 + 1 + 4 + 4
	fileHeaderSize       = fileHeaderFieldsSize + 4
)

const shardCRCSize = 4

// Default shard counts used when the FileConfig fields are zero.
const (
	DefaultDataShards   = 4
	DefaultParityShards = 2
)

// FileConfig is the configuration for a [FileStore].
type FileConfig struct {
	// Location of the state file.
	// The parent directory is created on first save.
	Path string

	DataShards   int
	ParityShards int
}

// FileStore is a [gpchost.Storage] backed by one file.
//
// The blob is split into Reed-Solomon data and parity shards,
// each stored with a CRC-32 checksum.
// The header fields have a CRC-32 of their own.
// Load discards shards whose checksum does not match
// and reconstructs the blob from the rest.
// Saves write a temporary file and rename it over the old one.
type FileStore struct {
	log *slog.Logger

	path string

	nData, nParity int

	enc reedsolomon.Encoder
}

func NewFileStore(log *slog.Logger, cfg FileConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("FileConfig.Path must not be empty")
	}

	if cfg.DataShards == 0 {
		cfg.DataShards = DefaultDataShards
	}
	if cfg.ParityShards == 0 {
		cfg.ParityShards = DefaultParityShards
	}
	if cfg.DataShards > 255 || cfg.ParityShards > 255 {
		return nil, fmt.Errorf(
			"shard counts must fit in a byte (got %d data, %d parity)",
			cfg.DataShards, cfg.ParityShards,
		)
	}

	enc, err := reedsolomon.New(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to build Reed-Solomon encoder: %w", err)
	}

	return &FileStore{
		log: log,

		path: cfg.Path,

		nData:   cfg.DataShards,
		nParity: cfg.ParityShards,

		enc: enc,
	}, nil
}

// Save implements [gpchost.Storage].
func (s *FileStore) Save(_ context.Context, blob []byte) error {
	if len(blob) == 0 {
		return errors.New("refusing to save empty state blob")
	}

	// Split may reuse the capacity of its input.
	shards, err := s.enc.Split(slices.Clone(blob))
	if err != nil {
		return fmt.Errorf("failed to split state blob: %w", err)
	}
	if err := s.enc.Encode(shards); err != nil {
		return fmt.Errorf("failed to erasure-code state blob: %w", err)
	}

	shardSize := len(shards[0])

	var buf bytes.Buffer
	buf.Grow(fileHeaderSize + len(shards)*(shardCRCSize+shardSize))

	buf.Write(fileMagic[:])
	buf.WriteByte(byte(s.nData))
	buf.WriteByte(byte(s.nParity))
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(blob))))
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(shardSize)))
	buf.Write(binary.LittleEndian.AppendUint32(nil, crc32.ChecksumIEEE(buf.Bytes())))

	for _, sh := range shards {
		buf.Write(binary.LittleEndian.AppendUint32(nil, crc32.ChecksumIEEE(sh)))
		buf.Write(sh)
	}

	return s.writeAtomic(buf.Bytes())
}

func (s *FileStore) writeAtomic(b []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load implements [gpchost.Storage].
// A missing file is reported as a nil blob.
func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(b) < fileHeaderSize || !bytes.Equal(b[:4], fileMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if crc32.ChecksumIEEE(b[:fileHeaderFieldsSize]) != binary.LittleEndian.Uint32(b[fileHeaderFieldsSize:]) {
		return nil, fmt.Errorf("%w: bad header checksum", ErrCorrupt)
	}

	nData := int(b[4])
	nParity := int(b[5])
	blobLen := int(binary.LittleEndian.Uint32(b[6:]))
	shardSize := int(binary.LittleEndian.Uint32(b[10:]))

	// Files written with other shard counts stay readable.
	enc := s.enc
	if nData != s.nData || nParity != s.nParity {
		enc, err = reedsolomon.New(nData, nParity)
		if err != nil {
			return nil, fmt.Errorf("%w: shard counts %d+%d: %v", ErrCorrupt, nData, nParity, err)
		}
	}

	total := nData + nParity
	if len(b) != fileHeaderSize+total*(shardCRCSize+shardSize) || blobLen > nData*shardSize {
		return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
	}

	shards := make([][]byte, total)
	var bad int
	rest := b[fileHeaderSize:]
	for i := range shards {
		want := binary.LittleEndian.Uint32(rest)
		sh := rest[shardCRCSize : shardCRCSize+shardSize]
		rest = rest[shardCRCSize+shardSize:]

		if crc32.ChecksumIEEE(sh) != want {
			bad++
			continue
		}
		shards[i] = sh
	}

	if bad > 0 {
		if err := enc.ReconstructData(shards); err != nil {
			return nil, fmt.Errorf("%w: %d damaged shards: %v", ErrCorrupt, bad, err)
		}
		s.log.Warn(
			"Repaired damaged state file",
			"path", s.path,
			"damaged_shards", bad,
		)
	}

	var out bytes.Buffer
	out.Grow(blobLen)
	if err := enc.Join(&out, shards, blobLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out.Bytes(), nil
}
