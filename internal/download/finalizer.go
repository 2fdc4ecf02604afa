package download

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/cipher"
	"github.com/rescale-labs/ultratransfer/internal/diskspace"
	"github.com/rescale-labs/ultratransfer/internal/util/buffers"
)

// FileFinalizer merges a completed file's fragments, decrypts them, and
// verifies the result. It is pure and single-threaded per file: the caller
// (FinalizeWorker) guarantees no two goroutines call Finalize for the same
// FileRecord concurrently.
type FileFinalizer struct{}

// NewFileFinalizer returns a stateless finalizer.
func NewFileFinalizer() *FileFinalizer { return &FileFinalizer{} }

// Finalize merges record's .part files (if not already merged), decrypts
// them to outputPath, verifies the CRC32, and removes the intermediate
// files. outputPath's parent directory must already exist.
func (f *FileFinalizer) Finalize(record *FileRecord, outputPath string) error {
	info := record.FileInfo

	if _, err := os.Stat(outputPath); err == nil {
		return nil // already finalized by a prior run
	}

	if _, err := os.Stat(filepath.Dir(outputPath)); os.IsNotExist(err) {
		return &apiclient.PathDoesntExistError{Path: filepath.Dir(outputPath)}
	}

	if err := diskspace.CheckAvailableSpace(outputPath, info.Size, diskSpaceSafetyMargin); err != nil {
		return err
	}

	if _, err := os.Stat(record.MergedPath); os.IsNotExist(err) {
		if err := f.merge(record); err != nil {
			return fmt.Errorf("merge fragments: %w", err)
		}
	}

	crc, err := f.decrypt(record, outputPath)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	os.Remove(record.MergedPath)
	f.removeParts(record)

	if crc != info.Crc32 {
		os.Remove(outputPath)
		return &apiclient.CrcIntegrityError{Want: info.Crc32, Got: crc}
	}
	return nil
}

// diskSpaceSafetyMargin leaves 10% headroom beyond the decrypted file's
// exact size before finalize starts writing it.
const diskSpaceSafetyMargin = 1.1

func (f *FileFinalizer) merge(record *FileRecord) error {
	out, err := os.Create(record.MergedPath)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := buffers.GetChunkBuffer()
	defer buffers.PutChunkBuffer(buf)

	fragments := record.FileInfo.Fragments
	for _, frag := range fragments {
		partPath := fragmentPartPath(record.FileDir, frag.Sequence)
		if err := appendFile(out, partPath, *buf); err != nil {
			return fmt.Errorf("append %s: %w", partPath, err)
		}
	}
	return nil
}

func appendFile(dst io.Writer, path string, buf []byte) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.CopyBuffer(dst, src, buf)
	return err
}

func (f *FileFinalizer) decrypt(record *FileRecord, outputPath string) (uint32, error) {
	info := record.FileInfo

	if info.EncryptionMethod == cipher.Plain {
		if err := os.Rename(record.MergedPath, outputPath); err != nil {
			return 0, err
		}
		return crc32OfFile(outputPath)
	}

	sc, err := cipher.New(info.EncryptionMethod, info.Key, info.IV, 0)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(record.MergedPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	buf := buffers.GetDecryptBuffer()
	defer buffers.PutDecryptBuffer(buf)

	hasher := crc32.NewIEEE()
	for {
		n, readErr := in.Read(*buf)
		if n > 0 {
			plain := sc.Transform((*buf)[:n])
			if _, err := out.Write(plain); err != nil {
				return 0, err
			}
			hasher.Write(plain)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, readErr
		}
	}
	return hasher.Sum32(), nil
}

func crc32OfFile(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	hasher := crc32.NewIEEE()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, err
	}
	return hasher.Sum32(), nil
}

func (f *FileFinalizer) removeParts(record *FileRecord) {
	for _, frag := range record.FileInfo.Fragments {
		os.Remove(fragmentPartPath(record.FileDir, frag.Sequence))
	}
}
