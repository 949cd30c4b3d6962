// Package security inspects images before they reach a provider and after a
// provider returns them.
package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

var (
	ErrEmpty            = errors.New("image is empty")
	ErrTooLarge         = errors.New("image exceeds size limit")
	ErrUnsupportedType  = errors.New("unsupported image type")
	ErrMaliciousContent = errors.New("image contains suspicious content")
	ErrDimensions       = errors.New("image dimensions out of range")
	ErrAspectRatio      = errors.New("image aspect ratio out of range")
	ErrUndecodable      = errors.New("image could not be decoded")
)

// Format is an allowed image container.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

// MIMEType returns the canonical media type for f.
func (f Format) MIMEType() string {
	return "image/" + string(f)
}

// scanWindow is how many leading bytes are searched for signatures.
const scanWindow = 1024

var magicBytes = []struct {
	format Format
	match  func([]byte) bool
}{
	{FormatPNG, func(b []byte) bool { return bytes.HasPrefix(b, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) }},
	{FormatJPEG, func(b []byte) bool { return bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) }},
	{FormatWEBP, func(b []byte) bool {
		return len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
	}},
}

// maliciousPrefixes are executable, archive and document signatures.
var maliciousPrefixes = [][]byte{
	[]byte("MZ"),
	[]byte("\x7fELF"),
	{0xCA, 0xFE, 0xBA, 0xBE},
	{0xCF, 0xFA, 0xED, 0xFE},
	[]byte("PK\x03\x04"),
	[]byte("Rar!\x1a\x07"),
	{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C},
	[]byte("%PDF"),
	[]byte("#!"),
}

var maliciousMarkers = []string{
	"<script",
	"javascript:",
	"<?php",
	"<iframe",
	"<svg",
	"onerror=",
	"this program cannot be run in dos mode",
	"eval(",
}

// Limits bound accepted images.
type Limits struct {
	MaxBytes int64
	// FormatMaxBytes lowers MaxBytes for individual formats.
	FormatMaxBytes map[Format]int64
	MinDimension   int
	MaxDimension   int
	MaxAspectRatio float64
}

// DefaultLimits mirrors the service defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:       20 << 20,
		FormatMaxBytes: map[Format]int64{FormatWEBP: 10 << 20},
		MinDimension:   64,
		MaxDimension:   8192,
		MaxAspectRatio: 5,
	}
}

// LimitsFromConfig derives limits from the service configuration.
func LimitsFromConfig(cfg *infra.Config) Limits {
	l := DefaultLimits()
	if cfg == nil {
		return l
	}
	if cfg.ImageMaxBytes > 0 {
		l.MaxBytes = cfg.ImageMaxBytes
	}
	if cfg.ImageMinDimension > 0 {
		l.MinDimension = cfg.ImageMinDimension
	}
	if cfg.ImageMaxDimension > 0 {
		l.MaxDimension = cfg.ImageMaxDimension
	}
	if cfg.ImageMaxAspectRatio > 0 {
		l.MaxAspectRatio = cfg.ImageMaxAspectRatio
	}
	return l
}

// Result describes an image that passed validation.
type Result struct {
	Format      Format
	MIMEType    string
	Bytes       int64
	Width       int
	Height      int
	ContentHash string
}

// Validator checks raw image bytes. It is stateless and safe for concurrent
// use.
type Validator struct {
	limits Limits
	logger *infra.Logger
}

func NewValidator(limits Limits, logger *infra.Logger) *Validator {
	return &Validator{limits: limits, logger: infra.LoggerOrNop(logger)}
}

// Validate runs every check in order and returns a validation error naming
// the first one that failed. declaredMIME is only compared for logging.
func (v *Validator) Validate(data []byte, declaredMIME string) (Result, error) {
	if len(data) == 0 {
		return Result{}, reject(ErrEmpty, "image is empty")
	}
	size := int64(len(data))
	if v.limits.MaxBytes > 0 && size > v.limits.MaxBytes {
		return Result{}, reject(ErrTooLarge, fmt.Sprintf("image is %d bytes, limit is %d", size, v.limits.MaxBytes))
	}
	if marker, found := scanMalicious(data); found {
		return Result{}, reject(ErrMaliciousContent, fmt.Sprintf("image rejected: found %s signature", marker))
	}
	format, ok := detectFormat(data)
	if !ok {
		return Result{}, reject(ErrUnsupportedType, "image type is not jpeg, png or webp")
	}
	if ceiling, ok := v.limits.FormatMaxBytes[format]; ok && ceiling > 0 && size > ceiling {
		return Result{}, reject(ErrTooLarge, fmt.Sprintf("%s image is %d bytes, limit is %d", format, size, ceiling))
	}
	if declared := normalizeMIME(declaredMIME); declared != "" && declared != format.MIMEType() {
		v.logger.Warn().Str("declared", declared).Str("detected", format.MIMEType()).Msg("security: declared content type does not match content")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, reject(ErrUndecodable, "image header could not be decoded")
	}
	if err := v.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return Result{}, err
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return Result{}, reject(ErrUndecodable, "image data is corrupt")
	}

	sum := sha256.Sum256(data)
	return Result{
		Format:      format,
		MIMEType:    format.MIMEType(),
		Bytes:       size,
		Width:       cfg.Width,
		Height:      cfg.Height,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (v *Validator) checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return reject(ErrDimensions, "image has no pixels")
	}
	if v.limits.MinDimension > 0 && (w < v.limits.MinDimension || h < v.limits.MinDimension) {
		return reject(ErrDimensions, fmt.Sprintf("image is %dx%d, minimum is %d", w, h, v.limits.MinDimension))
	}
	if v.limits.MaxDimension > 0 && (w > v.limits.MaxDimension || h > v.limits.MaxDimension) {
		return reject(ErrDimensions, fmt.Sprintf("image is %dx%d, maximum is %d", w, h, v.limits.MaxDimension))
	}
	if v.limits.MaxAspectRatio > 0 {
		ratio := float64(max(w, h)) / float64(min(w, h))
		if ratio > v.limits.MaxAspectRatio {
			return reject(ErrAspectRatio, fmt.Sprintf("image aspect ratio %.2f exceeds %.2f", math.Round(ratio*100)/100, v.limits.MaxAspectRatio))
		}
	}
	return nil
}

func detectFormat(data []byte) (Format, bool) {
	for _, m := range magicBytes {
		if m.match(data) {
			return m.format, true
		}
	}
	return "", false
}

func scanMalicious(data []byte) (string, bool) {
	head := data
	if len(head) > scanWindow {
		head = head[:scanWindow]
	}
	for _, prefix := range maliciousPrefixes {
		if bytes.HasPrefix(head, prefix) {
			return fmt.Sprintf("%q", prefix), true
		}
	}
	lower := bytes.ToLower(head)
	for _, marker := range maliciousMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			return marker, true
		}
	}
	return "", false
}

func normalizeMIME(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	if v == "image/jpg" {
		return "image/jpeg"
	}
	return v
}

func reject(sentinel error, msg string) error {
	return domain.ValidationError("security", msg, sentinel)
}
