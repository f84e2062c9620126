package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type stubRunner struct {
	calls  []call
	stdout string
	err    error
	onRun  func(name string, args []string)
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, call{name: name, args: args})
	if s.onRun != nil {
		s.onRun(name, args)
	}
	if s.err != nil {
		return nil, []byte("boom"), s.err
	}
	return []byte(s.stdout), nil, nil
}

func TestExtractBytes_Text(t *testing.T) {
	r := &stubRunner{}
	e := NewExtractor(Config{}, nil, WithRunner(r))

	res, err := e.ExtractBytes(context.Background(), "r.txt", []byte("\ufeffLIDL\r\nTOTAL   12,50\n\n\n\nLEI"), "abc")
	require.NoError(t, err)
	assert.Equal(t, "LIDL\nTOTAL 12,50\n\nLEI", res.Text)
	assert.Equal(t, "text", res.Method)
	assert.Empty(t, r.calls)
}

func TestExtractBytes_EmptyText(t *testing.T) {
	e := NewExtractor(Config{}, nil, WithRunner(&stubRunner{}))
	_, err := e.ExtractBytes(context.Background(), "r.txt", []byte("   \n "), "abc")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestExtractBytes_ImageRunsTesseract(t *testing.T) {
	r := &stubRunner{stdout: "LIDL\n---\nTOTAL 9,99\n"}
	e := NewExtractor(Config{TesseractLang: "ron", TessdataDir: "/td"}, nil, WithRunner(r))

	res, err := e.ExtractBytes(context.Background(), "photo.JPG", []byte{0xff, 0xd8}, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "LIDL\n\nTOTAL 9,99", res.Text)
	assert.Equal(t, "image-ocr", res.Method)

	require.Len(t, r.calls, 1)
	c := r.calls[0]
	assert.Equal(t, "tesseract", c.name)
	assert.True(t, strings.HasSuffix(c.args[0], "deadbeef.jpg"))
	assert.Equal(t, []string{"stdout", "-l", "ron", "--tessdata-dir", "/td"}, c.args[1:])
}

func TestExtractBytes_ToolFailure(t *testing.T) {
	r := &stubRunner{err: errors.New("exit status 1")}
	e := NewExtractor(Config{}, nil, WithRunner(r))

	_, err := e.ExtractBytes(context.Background(), "photo.png", []byte{1}, "h")
	assert.Error(t, err)
}

func TestExtractBytes_HEICUsesCache(t *testing.T) {
	cache := t.TempDir()
	r := &stubRunner{stdout: "TOTAL 1,00"}
	r.onRun = func(name string, args []string) {
		if name == "magick" {
			require.NoError(t, os.WriteFile(args[1], []byte("png"), 0o644))
		}
	}
	e := NewExtractor(Config{HeicConverter: "magick", ArtifactCacheDir: cache}, nil, WithRunner(r))

	_, err := e.ExtractBytes(context.Background(), "IMG_1.heic", []byte("heic"), "cafe")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cache, "cafe.png"))
	require.Len(t, r.calls, 2)
	assert.Equal(t, "magick", r.calls[0].name)
	assert.Equal(t, filepath.Join(cache, "cafe.png"), r.calls[1].args[0])

	r.calls = nil
	_, err = e.ExtractBytes(context.Background(), "IMG_1.heic", []byte("heic"), "cafe")
	require.NoError(t, err)
	require.Len(t, r.calls, 1, "cached conversion must be reused")
	assert.Equal(t, "tesseract", r.calls[0].name)
}

func TestExtractBytes_Unsupported(t *testing.T) {
	e := NewExtractor(Config{}, nil, WithRunner(&stubRunner{}))
	_, err := e.ExtractBytes(context.Background(), "r.docx", []byte("x"), "h")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNormalize(t *testing.T) {
	in := "A\t\tB C  \r\n=====\n\n\n\nD   "
	assert.Equal(t, "A B C\n\nD", Normalize(in))
	assert.Equal(t, "", Normalize(""))
}

func TestTextScore(t *testing.T) {
	assert.Zero(t, textScore(""))
	low := textScore("hello world")
	high := textScore("LIDL\nCIF 123\n1,000 BUC x 7,99\nTOTAL\n7,99\nLEI 7,99\nCARD 7,99\nDATA: 15/03/2025")
	assert.Less(t, low, high)
	assert.LessOrEqual(t, high, float32(1))
	assert.True(t, looksLikeAmount("7,99"))
	assert.False(t, looksLikeAmount("7,9"))
	assert.False(t, looksLikeAmount(",99"))
}
