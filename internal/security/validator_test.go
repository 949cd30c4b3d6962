package security

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

func encodeImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	return buf.Bytes()
}

func TestValidateAcceptsImages(t *testing.T) {
	v := NewValidator(DefaultLimits(), nil)
	jpeg := encodeImage(t, 512, 512, imaging.JPEG)
	res, err := v.Validate(jpeg, "image/jpg")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if res.Format != FormatJPEG || res.MIMEType != "image/jpeg" || res.Width != 512 || res.Height != 512 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.ContentHash) != 64 || res.Bytes != int64(len(jpeg)) {
		t.Fatalf("unexpected hash/size: %+v", res)
	}

	// a mismatched declared type is logged, not rejected
	png := encodeImage(t, 300, 200, imaging.PNG)
	res, err = v.Validate(png, "image/jpeg")
	if err != nil || res.Format != FormatPNG {
		t.Fatalf("png validation = %+v, %v", res, err)
	}
}

func TestValidateRejections(t *testing.T) {
	png := encodeImage(t, 128, 128, imaging.PNG)
	cases := []struct {
		name   string
		data   []byte
		limits Limits
		want   error
	}{
		{"empty", nil, DefaultLimits(), ErrEmpty},
		{"pe header", append([]byte("MZ"), png...), DefaultLimits(), ErrMaliciousContent},
		{"zip", append([]byte("PK\x03\x04"), png...), DefaultLimits(), ErrMaliciousContent},
		{"script after png magic", append(append([]byte{}, png[:8]...), []byte("<SCRIPT>alert(1)</script>")...), DefaultLimits(), ErrMaliciousContent},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), DefaultLimits(), ErrUnsupportedType},
		{"too large", png, Limits{MaxBytes: 16}, ErrTooLarge},
		{"format ceiling", png, Limits{MaxBytes: 1 << 20, FormatMaxBytes: map[Format]int64{FormatPNG: 16}}, ErrTooLarge},
		{"too small", encodeImage(t, 32, 32, imaging.PNG), DefaultLimits(), ErrDimensions},
		{"too big", png, Limits{MaxDimension: 100}, ErrDimensions},
		{"thin", encodeImage(t, 600, 100, imaging.PNG), DefaultLimits(), ErrAspectRatio},
		{"truncated", png[:40], DefaultLimits(), ErrUndecodable},
	}
	for _, tc := range cases {
		_, err := NewValidator(tc.limits, nil).Validate(tc.data, "")
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
		if domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("%s: expected validation kind, got %q", tc.name, domain.KindOf(err))
		}
	}
}

func TestFetcher(t *testing.T) {
	jpeg := encodeImage(t, 512, 512, imaging.JPEG)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpeg)
		case "/down.jpg":
			w.WriteHeader(http.StatusBadGateway)
		case "/busy.jpg":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/elsewhere.jpg":
			http.Redirect(w, r, "http://"+strings.Replace(r.Host, "127.0.0.1", "localhost", 1)+"/ok.jpg", http.StatusFound)
		case "/loop.jpg":
			http.Redirect(w, r, "/loop.jpg", http.StatusFound)
		case "/moved.jpg":
			http.Redirect(w, r, "/ok.jpg", http.StatusMovedPermanently)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host, _ := url.Parse(srv.URL)
	ctx := context.Background()

	f := NewFetcher(FetcherOptions{HTTPClient: srv.Client(), Allowlist: []string{host.Hostname()}})
	data, contentType, err := f.Fetch(ctx, srv.URL+"/ok.jpg")
	if err != nil || !bytes.Equal(data, jpeg) || contentType != "image/jpeg" {
		t.Fatalf("Fetch = %d bytes %q %v", len(data), contentType, err)
	}
	if _, _, err := f.Fetch(ctx, srv.URL+"/missing.jpg"); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("404 should be a validation error, got %v", err)
	}
	if _, _, err := f.Fetch(ctx, srv.URL+"/down.jpg"); !domain.Retryable(err) {
		t.Fatalf("502 should be transient, got %v", err)
	}
	if _, _, err := f.Fetch(ctx, srv.URL+"/busy.jpg"); !domain.Retryable(err) {
		t.Fatalf("429 should be transient, got %v", err)
	}
	if data, _, err := f.Fetch(ctx, srv.URL+"/moved.jpg"); err != nil || !bytes.Equal(data, jpeg) {
		t.Fatalf("same-host redirect should be followed, got %d bytes %v", len(data), err)
	}
	if _, _, err := f.Fetch(ctx, srv.URL+"/elsewhere.jpg"); !errors.Is(err, ErrHostNotAllowed) || domain.Retryable(err) {
		t.Fatalf("redirect to a host outside the allow-list should be rejected, got %v", err)
	}
	if _, _, err := f.Fetch(ctx, srv.URL+"/loop.jpg"); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("redirect loop should be a validation error, got %v", err)
	}
	if _, _, err := f.Fetch(ctx, "ftp://example.com/a.jpg"); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("ftp should be rejected, got %v", err)
	}
	if _, _, err := f.Fetch(ctx, "https://evil.example.com/a.jpg"); !errors.Is(err, ErrHostNotAllowed) {
		t.Fatalf("expected host rejection, got %v", err)
	}

	small := NewFetcher(FetcherOptions{HTTPClient: srv.Client(), MaxBytes: 100})
	if _, _, err := small.Fetch(ctx, srv.URL+"/ok.jpg"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected size rejection, got %v", err)
	}
}

func TestGuardCheckInput(t *testing.T) {
	jpeg := encodeImage(t, 512, 512, imaging.JPEG)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/evil.png" {
			_, _ = w.Write([]byte("MZ\x90\x00This program cannot be run in DOS mode"))
			return
		}
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	g := NewGuard(&infra.Config{ImageMaxBytes: 1 << 20}, nil)
	g.Fetcher.client = srv.Client()

	res, err := g.CheckInput(context.Background(), srv.URL+"/in.jpg")
	if err != nil || res.Width != 512 {
		t.Fatalf("CheckInput = %+v, %v", res, err)
	}
	if _, err := g.CheckInput(context.Background(), srv.URL+"/evil.png"); !errors.Is(err, ErrMaliciousContent) {
		t.Fatalf("expected malicious content rejection, got %v", err)
	}
}
