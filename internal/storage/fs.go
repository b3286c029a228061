package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Object layout: magic, compression tag, flags, plaintext length, payload.
var magic = [4]byte{'P', 'F', 'O', '1'}

const (
	headerSize    = 4 + 1 + 1 + 8
	flagEncrypted = 1 << 0
	digestHexLen  = 32

	// maxObjectBytes caps the plaintext length a header may claim. It is
	// independent of the upload limit so lowering that limit never makes
	// stored objects unreadable.
	maxObjectBytes = 1 << 34
)

type Options struct {
	Root           string
	Compression    Compression
	MaxUploadBytes int64
	Recipients     []string
	IdentityFile   string
}

// FS stores objects as files under Root. Handles look like
// permits/<permitID>/<digest>-<nonce>/<fileName>; the digest prefix is the
// BLAKE3 hash of the plaintext and is verified on every read.
type FS struct {
	root        string
	compression Compression
	maxBytes    int64
	sealer      *sealer
}

var _ Store = (*FS)(nil)

func NewFS(opts Options) (*FS, error) {
	if opts.Root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	s, err := newSealer(opts.Recipients, opts.IdentityFile)
	if err != nil {
		return nil, err
	}
	return &FS{root: opts.Root, compression: opts.Compression, maxBytes: opts.MaxUploadBytes, sealer: s}, nil
}

func (f *FS) Save(ctx context.Context, content []byte, fileName, permitID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap("save", "", err)
	}
	if f.maxBytes > 0 && int64(len(content)) > f.maxBytes {
		return "", &Error{Op: "save", Err: fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(content), f.maxBytes)}
	}
	name := sanitizeName(fileName)
	if name == "" || !validSegment(permitID) {
		return "", &Error{Op: "save", Err: ErrInvalidPath}
	}
	sum := blake3.Sum256(content)
	digest := hex.EncodeToString(sum[:])[:digestHexLen]
	rel := path.Join("permits", permitID, digest+"-"+uuid.NewString(), name)

	blob, err := f.encode(content)
	if err != nil {
		return "", wrap("save", rel, err)
	}
	full := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", wrap("save", rel, err)
	}
	if err := writeFileAtomic(full, blob); err != nil {
		return "", wrap("save", rel, err)
	}
	return rel, nil
}

func (f *FS) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("get", p, err)
	}
	full, digest, err := f.resolve(p)
	if err != nil {
		return nil, wrap("get", p, err)
	}
	blob, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Op: "get", Path: p, Err: ErrNotExist}
		}
		return nil, wrap("get", p, err)
	}
	content, err := f.decode(blob)
	if err != nil {
		return nil, wrap("get", p, err)
	}
	sum := blake3.Sum256(content)
	if hex.EncodeToString(sum[:])[:digestHexLen] != digest {
		return nil, &Error{Op: "get", Path: p, Err: ErrCorrupt}
	}
	return content, nil
}

// Delete removes the object and its per-upload directory. Deleting a missing
// object is not an error.
func (f *FS) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return wrap("delete", p, err)
	}
	full, _, err := f.resolve(p)
	if err != nil {
		return wrap("delete", p, err)
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("delete", p, err)
	}
	_ = os.Remove(filepath.Dir(full))
	return nil
}

func (f *FS) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrap("exists", p, err)
	}
	full, _, err := f.resolve(p)
	if err != nil {
		return false, wrap("exists", p, err)
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, wrap("exists", p, err)
}

// resolve validates a handle produced by Save and returns its file path and
// the embedded digest.
func (f *FS) resolve(p string) (string, string, error) {
	parts := strings.Split(p, "/")
	if len(parts) != 4 || parts[0] != "permits" {
		return "", "", ErrInvalidPath
	}
	for _, s := range parts {
		if !validSegment(s) {
			return "", "", ErrInvalidPath
		}
	}
	digest, _, ok := strings.Cut(parts[2], "-")
	if !ok || len(digest) != digestHexLen {
		return "", "", ErrInvalidPath
	}
	return filepath.Join(f.root, filepath.FromSlash(p)), digest, nil
}

func (f *FS) encode(content []byte) ([]byte, error) {
	payload, used, err := compress(content, f.compression)
	if err != nil {
		return nil, err
	}
	var flags byte
	if f.sealer.canSeal() {
		payload, err = f.sealer.seal(payload)
		if err != nil {
			return nil, err
		}
		flags |= flagEncrypted
	}
	var hdr [headerSize]byte
	copy(hdr[:4], magic[:])
	hdr[4] = byte(used)
	hdr[5] = flags
	binary.BigEndian.PutUint64(hdr[6:], uint64(len(content)))
	return append(hdr[:], payload...), nil
}

func (f *FS) decode(blob []byte) ([]byte, error) {
	if len(blob) < headerSize || !bytes.Equal(blob[:4], magic[:]) {
		return nil, ErrCorrupt
	}
	c := Compression(blob[4])
	flags := blob[5]
	size := binary.BigEndian.Uint64(blob[6:headerSize])
	if size > maxObjectBytes {
		return nil, ErrCorrupt
	}
	payload := blob[headerSize:]
	if flags&flagEncrypted != 0 {
		var err error
		payload, err = f.sealer.open(payload)
		if err != nil {
			return nil, err
		}
	}
	return decompress(payload, c, int(size))
}

// ValidPermitID reports whether id can name a permit's storage directory.
func ValidPermitID(id string) bool {
	return validSegment(id)
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`+"\x00")
}

// sanitizeName keeps the base name of an upload and drops characters that
// are unsafe in a path component.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "." || out == ".." || out == "/" {
		return ""
	}
	return out
}

func writeFileAtomic(full string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, full)
}
