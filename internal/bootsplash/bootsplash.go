// Package bootsplash renders a purely cosmetic boot banner, grounded
// on the teacher's qemu boot-time gg.Context framebuffer splash
// (src/mazboot/golang/main/gg_circle_qemu.go): a fogleman/gg drawing
// context rendered into an RGBA backbuffer. There is no real
// framebuffer in this hosted simulation, so the backbuffer is
// flattened to a coarse ASCII-art grid and written through the
// Console collaborator instead of a Bochs/QEMU pixel buffer. Nothing
// downstream depends on this package ever running.
package bootsplash

import (
	"fmt"
	"image"
	"strings"

	"github.com/fogleman/gg"

	"github.com/iansmith/mazkern/internal/collab"
)

const (
	width  = 48
	height = 12
)

// ramp is a coarse luminance-to-glyph table, darkest to brightest.
const ramp = " .:-=+*#%@"

// Render draws a circle-and-wordmark banner and writes it to con's
// stdout, tagged with name/version for operator sanity at bring-up.
func Render(con collab.Console, name, version string) {
	ctx := gg.NewContext(width*2, height*2)
	ctx.SetRGB(0, 0, 0)
	ctx.Clear()
	ctx.SetRGB(1, 1, 1)
	ctx.DrawCircle(float64(width), float64(height), float64(height)-2)
	ctx.Fill()

	img, ok := ctx.Image().(*image.RGBA)
	if !ok {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n%s %s\n", name, version))
	for y := 0; y < height*2; y += 2 {
		for x := 0; x < width*2; x += 2 {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := (299*r + 587*g + 114*b) / 1000
			idx := int(lum) * (len(ramp) - 1) / 0xffff
			sb.WriteByte(ramp[idx])
		}
		sb.WriteByte('\n')
	}
	con.WriteStdout([]byte(sb.String()))
}
