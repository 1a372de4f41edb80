package transform

import (
	"errors"
	"testing"

	"github.com/pithecene-io/tagstream/types"
)

func solidFrame(w, h, channels int, v byte) *types.Frame {
	f := types.NewFrame(w, h, channels)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func TestPipeline_ResizeThenCrop(t *testing.T) {
	p, err := Parse([]byte(`[
		{"transformation":"Resize","width":50,"height":50},
		{"transformation":"Crop","xPosition":0,"yPosition":0,"width":10,"height":10}
	]`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	in := solidFrame(100, 100, 3, 200)
	out, err := p.Apply(in)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.Width != 10 || out.Height != 10 || out.Channels != 3 {
		t.Fatalf("output = %dx%dx%d, want 10x10x3", out.Width, out.Height, out.Channels)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("output invalid: %v", err)
	}
	if in.Width != 100 || in.Pix[0] != 200 {
		t.Error("input frame was modified")
	}
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "  ", "[]"} {
		p, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", in, err)
		}
		f := solidFrame(4, 4, 1, 7)
		out, err := p.Apply(f)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if out != f {
			t.Errorf("Parse(%q): empty pipeline did not return input frame", in)
		}
	}
}

func TestParse_UnsupportedTransform(t *testing.T) {
	_, err := Parse([]byte(`[{"transformation":"Resize","width":10},{"transformation":"Shear","degrees":3}]`))
	if !errors.Is(err, ErrUnsupportedTransform) {
		t.Fatalf("err = %v, want ErrUnsupportedTransform", err)
	}
	var te *Error
	if !errors.As(err, &te) || te.Index != 1 {
		t.Fatalf("err = %#v, want *Error at index 1", err)
	}
}

func TestParse_MissingFields(t *testing.T) {
	tests := []string{
		`[{"transformation":"Rotate"}]`,
		`[{"transformation":"Crop","width":10}]`,
		`{"transformation":"Rotate"}`,
	}
	for _, in := range tests {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%s) succeeded, want error", in)
		}
	}
}

func TestCrop_InvalidRegion(t *testing.T) {
	f := solidFrame(20, 20, 3, 0)
	tests := []struct {
		name string
		crop Crop
	}{
		{"past right edge", Crop{X: 15, Y: 0, Width: 10, Height: 10}},
		{"past bottom edge", Crop{X: 0, Y: 15, Width: 10, Height: 10}},
		{"negative origin", Crop{X: -1, Y: 0, Width: 5, Height: 5}},
		{"zero size", Crop{X: 0, Y: 0, Width: 0, Height: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.crop.Apply(f)
			if !errors.Is(err, ErrInvalidRegion) {
				t.Errorf("err = %v, want ErrInvalidRegion", err)
			}
		})
	}
}

func TestCrop_CopiesRegion(t *testing.T) {
	f := types.NewFrame(4, 4, 1)
	for i := range f.Pix {
		f.Pix[i] = byte(i)
	}
	out, err := Crop{X: 1, Y: 2, Width: 2, Height: 2}.Apply(f)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []byte{9, 10, 13, 14}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Fatalf("Pix = %v, want %v", out.Pix, want)
		}
	}
}

func TestResize_Size(t *testing.T) {
	tests := []struct {
		name         string
		r            Resize
		inW, inH     int
		wantW, wantH int
	}{
		{"exact", Resize{Width: 50, Height: 20}, 100, 100, 50, 20},
		{"width only", Resize{Width: 320}, 640, 480, 320, 240},
		{"height only", Resize{Height: 240}, 640, 480, 320, 240},
		{"neither", Resize{}, 640, 480, 640, 480},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tt.r.Size(tt.inW, tt.inH)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("Size = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRotate_KeepsSizeAndFillsBlack(t *testing.T) {
	f := solidFrame(100, 100, 3, 255)
	out, err := Rotate{Degrees: 45}.Apply(f)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out.Width != 100 || out.Height != 100 {
		t.Fatalf("size = %dx%d, want 100x100", out.Width, out.Height)
	}
	if out.Pix[0] != 0 || out.Pix[1] != 0 || out.Pix[2] != 0 {
		t.Errorf("corner pixel = %v, want black", out.Pix[:3])
	}
	center := (50*100 + 50) * 3
	if out.Pix[center] != 255 {
		t.Errorf("center pixel = %d, want 255", out.Pix[center])
	}
}

func TestRotate_Clockwise(t *testing.T) {
	// White left half on a 10x10 gray frame.
	f := types.NewFrame(10, 10, 1)
	for y := 0; y < 10; y++ {
		for x := 0; x < 5; x++ {
			f.Pix[y*10+x] = 255
		}
	}

	out, err := Rotate{Degrees: 90}.Apply(f)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// A quarter turn clockwise moves the left half to the top.
	if top := out.Pix[1*10+5]; top != 255 {
		t.Errorf("top pixel = %d, want 255", top)
	}
	if bottom := out.Pix[8*10+5]; bottom != 0 {
		t.Errorf("bottom pixel = %d, want 0", bottom)
	}
}
