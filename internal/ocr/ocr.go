package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

var (
	// ErrNoText is returned when a source yields no usable text.
	ErrNoText = errors.New("no text extracted")
	// ErrUnsupported is returned for file types no strategy handles.
	ErrUnsupported = errors.New("unsupported file type")
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"

	TesseractLang string // default "ron+eng"
	TessdataDir   string
	PSM           int // e.g. 4 works well for single-column receipts
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	HeicConverter    string
	ArtifactCacheDir string
}

type ExtractionResult struct {
	Text       string
	Pages      int
	SourceType string // constants.PDF | constants.IMAGE | constants.TXT
	Method     string // "text" | "pdf-text" | "pdf-ocr" | "image-ocr"
	Engine     string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Extractor)

// WithRunner swaps the external command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "ron+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "magick"
	}
	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractBytes picks a strategy from the file name's extension and returns
// normalized text. hashHex keys temp files and the HEIC cache.
func (e *Extractor) ExtractBytes(ctx context.Context, name string, data []byte, hashHex string) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(name))
	e.logger.Debug("ocr.extract.start", "file", name, "ext", ext)

	var (
		res ExtractionResult
		err error
	)
	switch constants.MapExtToFormat(ext) {
	case constants.TXT:
		res, err = e.extractText(data)
	case constants.PDF:
		res, err = e.extractPDF(ctx, ext, data, hashHex)
	case constants.IMAGE:
		res, err = e.extractImage(ctx, ext, data, hashHex)
	default:
		e.logger.Error("ocr.extract.unsupported", "file", name, "ext", ext)
		return ExtractionResult{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	res.Text = Normalize(res.Text)
	if res.Text == "" {
		return res, fmt.Errorf("%s: %w", name, ErrNoText)
	}
	res.Confidence = textScore(res.Text)
	e.logger.Info("ocr.extract.ok",
		"file", name,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) extractText(data []byte) (ExtractionResult, error) {
	if !utf8.Valid(data) {
		return ExtractionResult{SourceType: constants.TXT}, errors.New("text file is not valid UTF-8")
	}
	return ExtractionResult{
		Text:       strings.TrimPrefix(string(data), "\ufeff"),
		Pages:      1,
		SourceType: constants.TXT,
		Method:     "text",
		Engine:     "text",
	}, nil
}

func (e *Extractor) extractPDF(ctx context.Context, ext string, data []byte, hashHex string) (ExtractionResult, error) {
	text, pages, err := ExtractPDFText(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return ExtractionResult{
			Text:       text,
			Pages:      pages,
			SourceType: constants.PDF,
			Method:     "pdf-text",
			Engine:     "ledongthuc/pdf",
		}, nil
	}
	var warns []string
	if err != nil {
		warns = append(warns, err.Error())
	}

	// no text layer: scanned PDF, rasterize and OCR
	path, cleanup, err := e.spill(ext, data, hashHex)
	if err != nil {
		return ExtractionResult{SourceType: constants.PDF, Warnings: warns}, err
	}
	defer cleanup()

	text, pages, w, err := e.pdfToOCR(ctx, path)
	warns = append(warns, w...)
	if err != nil {
		return ExtractionResult{SourceType: constants.PDF, Warnings: warns}, err
	}
	return ExtractionResult{
		Text:       text,
		Pages:      pages,
		SourceType: constants.PDF,
		Method:     "pdf-ocr",
		Engine:     "tesseract",
		Warnings:   warns,
	}, nil
}

func (e *Extractor) extractImage(ctx context.Context, ext string, data []byte, hashHex string) (ExtractionResult, error) {
	path, cleanup, err := e.spill(ext, data, hashHex)
	if err != nil {
		return ExtractionResult{SourceType: constants.IMAGE}, err
	}
	defer cleanup()

	var warns []string
	if constants.IsHEICExt(ext) {
		out, w, c, err := convertHEICtoPNG(ctx, e.runner, e.logger, e.cfg.HeicConverter, path, e.cfg.ArtifactCacheDir, hashHex)
		warns = append(warns, w...)
		if err != nil {
			e.logger.Error("ocr.heic.failed", "error", err)
			return ExtractionResult{SourceType: constants.IMAGE, Warnings: warns}, err
		}
		if c != nil {
			defer c()
		}
		path = out
	}

	txt, w, err := e.tesseractOCR(ctx, path)
	warns = append(warns, w...)
	if err != nil {
		return ExtractionResult{SourceType: constants.IMAGE, Warnings: warns}, err
	}
	return ExtractionResult{
		Text:       txt,
		Pages:      1,
		SourceType: constants.IMAGE,
		Method:     "image-ocr",
		Engine:     "tesseract",
		Warnings:   warns,
	}, nil
}

// spill writes data to a temp file so external tools can read it.
func (e *Extractor) spill(ext string, data []byte, hashHex string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "rw-src-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	name := hashHex
	if name == "" {
		name = "source"
	}
	path := filepath.Join(dir, name+"."+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
