package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func newTestFS(t *testing.T, opts Options) *FS {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	f, err := NewFS(opts)
	if err != nil {
		t.Fatalf("new fs: %v", err)
	}
	return f
}

func TestRoundTripEachCompression(t *testing.T) {
	ctx := context.Background()
	content := []byte(strings.Repeat("sheet A-101 revision cloud\n", 200))
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			f := newTestFS(t, Options{Compression: c})
			p, err := f.Save(ctx, content, "plans.pdf", "permit-1")
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			if !strings.HasPrefix(p, "permits/permit-1/") || !strings.HasSuffix(p, "/plans.pdf") {
				t.Fatalf("unexpected handle %q", p)
			}
			got, err := f.Get(ctx, p)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Fatalf("content mismatch")
			}
			raw, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(p)))
			if err != nil {
				t.Fatalf("read raw: %v", err)
			}
			if Compression(raw[4]) != c {
				t.Fatalf("expected header tag %s, got %s", c, Compression(raw[4]))
			}
		})
	}
}

func TestIncompressibleStoredRaw(t *testing.T) {
	f := newTestFS(t, Options{Compression: CompressionZstd})
	p, err := f.Save(context.Background(), []byte{0x01, 0x02}, "tiny.bin", "p1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(p)))
	if Compression(raw[4]) != CompressionNone {
		t.Fatalf("expected raw storage for tiny payload, got %s", Compression(raw[4]))
	}
}

func TestSameBytesGetDistinctHandles(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t, Options{})
	a, _ := f.Save(ctx, []byte("same"), "a.txt", "p1")
	b, _ := f.Save(ctx, []byte("same"), "a.txt", "p1")
	if a == b {
		t.Fatalf("expected distinct handles, got %q twice", a)
	}
	if err := f.Delete(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := f.Exists(ctx, b); !ok {
		t.Fatalf("deleting one upload removed the other")
	}
}

func TestSizeLimit(t *testing.T) {
	f := newTestFS(t, Options{MaxUploadBytes: 4})
	_, err := f.Save(context.Background(), []byte("12345"), "big.bin", "p1")
	var se *Error
	if !errors.As(err, &se) || !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected storage too-large error, got %v", err)
	}
}

func TestLoweredLimitStillReadsStoredObjects(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	content := bytes.Repeat([]byte("sheet A-101 "), 70)
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		big := newTestFS(t, Options{Root: root, Compression: c, MaxUploadBytes: 1000})
		p, err := big.Save(ctx, content, "a.pdf", "permit1")
		if err != nil {
			t.Fatalf("%s save: %v", c, err)
		}
		small := newTestFS(t, Options{Root: root, Compression: c, MaxUploadBytes: 500})
		got, err := small.Get(ctx, p)
		if err != nil {
			t.Fatalf("%s get after lowering the limit: %v", c, err)
		}
		if !bytes.Equal(got, content) {
			t.Fatalf("%s content mismatch", c)
		}
		if _, err := small.Save(ctx, content, "b.pdf", "permit1"); !errors.Is(err, ErrTooLarge) {
			t.Fatalf("%s new uploads must respect the lowered limit, got %v", c, err)
		}
	}
}

func TestValidPermitID(t *testing.T) {
	for id, want := range map[string]bool{
		"BLD-2024-001": true,
		"permit 7":     true,
		"BLD/2024/001": false,
		`a\b`:          false,
		"..":           false,
		"":             false,
		"a\x00b":       false,
	} {
		if got := ValidPermitID(id); got != want {
			t.Errorf("ValidPermitID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestCorruptionDetected(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t, Options{})
	p, err := f.Save(ctx, []byte("original bytes"), "a.txt", "p1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	full := filepath.Join(f.root, filepath.FromSlash(p))
	raw, _ := os.ReadFile(full)
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(full, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.Get(ctx, p); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}

func TestInvalidHandles(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t, Options{})
	for _, p := range []string{"", "../etc/passwd", "permits/p1/../../x", "permits/p1/nodigest/a.txt", "other/p1/" + strings.Repeat("a", 32) + "-x/a"} {
		if _, err := f.Get(ctx, p); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("%q: expected invalid path, got %v", p, err)
		}
	}
	if _, err := f.Save(ctx, []byte("x"), "a.txt", "../p1"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected invalid permit id to be rejected, got %v", err)
	}
}

func TestMissingObject(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t, Options{})
	p := "permits/p1/" + strings.Repeat("0", 32) + "-x/a.txt"
	if _, err := f.Get(ctx, p); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
	if ok, err := f.Exists(ctx, p); err != nil || ok {
		t.Fatalf("expected missing object, got %v %v", ok, err)
	}
	if err := f.Delete(ctx, p); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
}

func TestEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	dir := t.TempDir()
	idFile := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(idFile, []byte(id.String()+"\n"), 0o600); err != nil {
		t.Fatalf("write identity: %v", err)
	}
	f := newTestFS(t, Options{Compression: CompressionZstd, Recipients: []string{id.Recipient().String()}, IdentityFile: idFile})
	content := []byte(strings.Repeat("confidential site survey ", 50))
	p, err := f.Save(ctx, content, "survey.txt", "p1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(p)))
	if raw[5]&flagEncrypted == 0 || bytes.Contains(raw, []byte("confidential")) {
		t.Fatalf("expected encrypted payload")
	}
	got, err := f.Get(ctx, p)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch")
	}

	noKey := &FS{root: f.root, compression: CompressionZstd}
	if _, err := noKey.Get(ctx, p); err == nil {
		t.Fatalf("expected decrypt failure without identity")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plans.pdf", "plans.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\drawings\a:b.dwg`, "a_b.dwg"},
		{"..", ""},
		{"", ""},
		{"site plan (rev 2).pdf", "site plan (rev 2).pdf"},
	}
	for _, c := range cases {
		if got := sanitizeName(c.in); got != c.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
