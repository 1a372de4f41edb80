//go:build !gocv

package cv

import (
	"errors"
	"testing"

	"github.com/pithecene-io/tagstream/detect"
	"github.com/pithecene-io/tagstream/types"
)

func TestStub_RegisteredButUnavailable(t *testing.T) {
	for _, name := range []string{types.TagQRCode, types.TagPlate, types.TagFace} {
		reg, ok := detect.Default.Lookup(name)
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		if _, err := reg.Factory(detect.Options{}); !errors.Is(err, ErrUnavailable) {
			t.Errorf("%s factory err = %v, want ErrUnavailable", name, err)
		}
	}

	reg, _ := detect.Default.Lookup(types.TagFace)
	if reg.Input != detect.InputEqualizedGray {
		t.Errorf("face input = %v, want equalized gray", reg.Input)
	}
}
