package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// buildPDF returns a minimal PDF with one page per size, with a valid xref table
func buildPDF(sizes ...PageSize) []byte {
	pages := make([]testPage, len(sizes))
	for i, s := range sizes {
		pages[i] = testPage{media: s}
	}
	return buildPDFPages(pages...)
}

// testPage is a page dictionary; extra is appended verbatim, e.g. a /CropBox or /Rotate entry
type testPage struct {
	media PageSize
	extra string
}

func buildPDFPages(pages ...testPage) []byte {
	var buf bytes.Buffer
	offsets := []int{}

	write := func(obj string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(obj)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}

	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	write(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [ %s] /Count %d >>\nendobj\n", kids, len(pages)))
	for i, p := range pages {
		write(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] %s/Resources << >> >>\nendobj\n",
			i+3, p.media.Width, p.media.Height, p.extra))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return buf.Bytes()
}

func letterPDF(pages int) []byte {
	sizes := make([]PageSize, pages)
	for i := range sizes {
		sizes[i] = PageSize{Width: 612, Height: 792}
	}
	return buildPDF(sizes...)
}

func encodePNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// fakeRunner imitates pdftoppm: it writes a PNG of the requested size to <prefix>.png
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	// writeOutput controls whether an image is produced
	writeOutput bool
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.writeOutput {
		w, h := argInt(args, "-scale-to-x"), argInt(args, "-scale-to-y")
		prefix := args[len(args)-1]
		if err := os.WriteFile(prefix+".png", encodePNG(w, h), 0o600); err != nil {
			return nil, nil, err
		}
	}
	if f.err != nil {
		return nil, []byte("Syntax Error: broken object"), f.err
	}
	return nil, nil, nil
}

func (f *fakeRunner) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func argInt(args []string, flag string) int {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			return n
		}
	}
	return 0
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
