// Package render composes the square poster image: background (poster or
// dark solid colour), wrapped outlined caption and a footer watermark.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	_ "golang.org/x/image/webp"

	"nelculobot/pkg/logx"
)

type Config struct {
	Size      int
	FontSize  float64
	WrapWidth int
	Footer    string
	Quality   int
	// FontPath is an optional TTF file; the embedded Go Bold face is used
	// when it is empty or unreadable.
	FontPath        string
	DownloadTimeout time.Duration
}

const maxBackgroundBytes = 20 << 20

type Renderer struct {
	cfg    Config
	font   *truetype.Font
	client *http.Client
	intn   func(n int) int
	log    logx.Logger
}

type Option func(*Renderer)

func WithHTTPClient(c *http.Client) Option { return func(r *Renderer) { r.client = c } }

// WithIntN replaces the random source used for fallback colours.
func WithIntN(fn func(n int) int) Option { return func(r *Renderer) { r.intn = fn } }

func New(cfg Config, log logx.Logger, opts ...Option) *Renderer {
	if cfg.Size <= 0 {
		cfg.Size = 1080
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = 110
	}
	if cfg.WrapWidth <= 0 {
		cfg.WrapWidth = 12
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 95
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Renderer{cfg: cfg, client: http.DefaultClient, intn: rand.IntN, log: log.With(logx.String("comp", "render"))}
	for _, o := range opts {
		o(r)
	}
	r.font = r.loadFont(cfg.FontPath)
	return r
}

func (r *Renderer) loadFont(path string) *truetype.Font {
	if path = strings.TrimSpace(path); path != "" {
		f, err := parseFontFile(path)
		if err == nil {
			return f
		}
		r.log.Warn("font unusable; using embedded face", logx.String("path", path), logx.Err(err))
	}
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		panic(fmt.Sprintf("render: embedded font: %v", err))
	}
	return f
}

func parseFontFile(path string) (*truetype.Font, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return truetype.Parse(b)
}

// Render returns a JPEG. Background problems fall back to a solid colour
// and never fail the call.
func (r *Renderer) Render(ctx context.Context, text, bgURL string) ([]byte, error) {
	size := r.cfg.Size
	dc := gg.NewContext(size, size)

	bg := r.background(ctx, bgURL)
	if bg != nil {
		dc.DrawImage(coverCrop(bg, size), 0, 0)
		dc.SetRGBA255(0, 0, 0, 140)
		dc.DrawRectangle(0, 0, float64(size), float64(size))
		dc.Fill()
	} else {
		dc.SetRGB255(r.intn(51), r.intn(51), r.intn(51))
		dc.Clear()
	}

	scale := float64(size) / 1080
	r.drawCaption(dc, text, scale)
	r.drawFooter(dc, scale)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: r.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("render: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) face(points float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{Size: points, Hinting: font.HintingFull})
}

func (r *Renderer) drawCaption(dc *gg.Context, text string, scale float64) {
	lines := wrapText(text, r.cfg.WrapWidth)
	if len(lines) == 0 {
		return
	}
	dc.SetFontFace(r.face(r.cfg.FontSize * scale))
	spacing := 30 * scale
	_, lineH := dc.MeasureString("Hg")

	total := float64(len(lines)) * (lineH + spacing)
	size := float64(r.cfg.Size)
	y := (size - total) / 2
	for _, line := range lines {
		drawOutlined(dc, line, size/2, y, int(6*scale+0.5), color.White, color.Black)
		y += lineH + spacing
	}
}

func (r *Renderer) drawFooter(dc *gg.Context, scale float64) {
	if strings.TrimSpace(r.cfg.Footer) == "" {
		return
	}
	dc.SetFontFace(r.face(50 * scale))
	size := float64(r.cfg.Size)
	drawOutlined(dc, r.cfg.Footer, size/2, size-100*scale, int(3*scale+0.5),
		color.RGBA{R: 220, G: 220, B: 220, A: 255}, color.Black)
}

// drawOutlined draws s horizontally centred on cx with its top at y.
func drawOutlined(dc *gg.Context, s string, cx, y float64, outline int, fg, stroke color.Color) {
	dc.SetColor(stroke)
	for dx := -outline; dx <= outline; dx++ {
		for dy := -outline; dy <= outline; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			dc.DrawStringAnchored(s, cx+float64(dx), y+float64(dy), 0.5, 1)
		}
	}
	dc.SetColor(fg)
	dc.DrawStringAnchored(s, cx, y, 0.5, 1)
}

func (r *Renderer) background(ctx context.Context, rawURL string) image.Image {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	img, err := r.download(ctx, rawURL)
	if err != nil {
		r.log.Warn("background unavailable; using solid colour", logx.String("url", rawURL), logx.Err(err))
		return nil
	}
	return img
}

func (r *Renderer) download(ctx context.Context, rawURL string) (image.Image, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.DownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxBackgroundBytes))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return img, nil
}

// coverCrop scales src to fill a size×size square and crops the centre.
func coverCrop(src image.Image, size int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	crop := b
	if w > h {
		off := (w - h) / 2
		crop = image.Rect(b.Min.X+off, b.Min.Y, b.Min.X+off+h, b.Max.Y)
	} else if h > w {
		off := (h - w) / 2
		crop = image.Rect(b.Min.X, b.Min.Y+off, b.Max.X, b.Min.Y+off+w)
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, xdraw.Src, nil)
	return dst
}
