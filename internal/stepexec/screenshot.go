package stepexec

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder for Playwright's PNG screenshots

	"github.com/playwright-community/playwright-go"
	"golang.org/x/image/draw"
)

const (
	screenshotMaxSide = 1600
	screenshotQuality = 70
)

// captureScreenshot takes a best-effort PNG screenshot of the session's
// current page and re-encodes it as a quality-70 JPEG, downscaling if
// either dimension exceeds screenshotMaxSide.
func (e *Executor) captureScreenshot() ([]byte, error) {
	raw, err := e.Session.Page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > screenshotMaxSide || height > screenshotMaxSide {
		newWidth, newHeight := width, height
		if width > height {
			newWidth = screenshotMaxSide
			newHeight = int(float64(height) * float64(screenshotMaxSide) / float64(width))
		} else {
			newHeight = screenshotMaxSide
			newWidth = int(float64(width) * float64(screenshotMaxSide) / float64(height))
		}
		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: screenshotQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
