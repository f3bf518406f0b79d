// Package archive writes self-verifying result archives: a plain JSON header
// line followed by a gzip-compressed JSONL payload of scenario records.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/q2s/internal/simulation"
)

// FormatVersion is the current archive format version.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (500MB).
const MaxDecompressedSize = 500 * 1024 * 1024

// ErrChecksum is returned when the payload does not match the header checksum.
var ErrChecksum = errors.New("q2s: archive checksum mismatch")

// Header is the plain-text first line of an archive.
type Header struct {
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Checksum    string            `json:"checksum"`
	RecordCount int               `json:"record_count"`
	Infeasible  int               `json:"infeasible"`
	Columns     []string          `json:"columns"`
	Compressed  bool              `json:"compressed"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Archive is a set of records plus descriptive metadata.
type Archive struct {
	CreatedAt time.Time
	Columns   []string
	Metadata  map[string]string
	Records   []simulation.Record
}

// Write stores a as an archive file at path.
func Write(path string, a *Archive) (*Header, error) {
	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	enc := json.NewEncoder(gzw)
	infeasible := 0
	for _, rec := range a.Records {
		if rec.Infeasible() {
			infeasible++
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encoding scenario %d: %w", rec.ID, err)
		}
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	header := &Header{
		Version:     FormatVersion,
		CreatedAt:   created,
		Checksum:    checksum(compressed.Bytes()),
		RecordCount: len(a.Records),
		Infeasible:  infeasible,
		Columns:     a.Columns,
		Compressed:  true,
		Metadata:    a.Metadata,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return nil, fmt.Errorf("writing compressed payload: %w", err)
	}
	return header, f.Close()
}

// Read verifies and decodes the archive at path.
func Read(path string) (*Archive, error) {
	header, payload, err := readVerified(path)
	if err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	limited := &io.LimitedReader{R: gzr, N: MaxDecompressedSize + 1}
	dec := json.NewDecoder(limited)
	a := &Archive{
		CreatedAt: header.CreatedAt,
		Columns:   header.Columns,
		Metadata:  header.Metadata,
		Records:   make([]simulation.Record, 0, header.RecordCount),
	}
	for {
		var rec simulation.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", len(a.Records)+1, err)
		}
		a.Records = append(a.Records, rec)
	}
	if limited.N <= 0 {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	if len(a.Records) != header.RecordCount {
		return nil, fmt.Errorf("header lists %d records, payload has %d", header.RecordCount, len(a.Records))
	}
	return a, nil
}

// ReadHeader reads only the header line of an archive.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, _, err := readHeader(bufio.NewReader(f))
	return header, err
}

// VerifyChecksum checks the integrity of an archive without decompressing it.
func VerifyChecksum(path string) error {
	_, _, err := readVerified(path)
	return err
}

func readVerified(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header, reader, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, nil, err
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(payload); actual != header.Checksum {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}
	return header, payload, nil
}

func readHeader(reader *bufio.Reader) (*Header, *bufio.Reader, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header line: %w", err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, nil, fmt.Errorf("unsupported archive version %d", header.Version)
	}
	return &header, reader, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
