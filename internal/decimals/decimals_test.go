package decimals

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestMultiplier(t *testing.T) {
	cases := map[uint8]string{
		18: "1",
		6:  "1000000000000",
		0:  "1000000000000000000",
	}
	for d, want := range cases {
		got, err := Multiplier(d)
		if err != nil {
			t.Fatalf("multiplier(%d): %v", d, err)
		}
		if got.Dec() != want {
			t.Fatalf("multiplier(%d) = %s want %s", d, got.Dec(), want)
		}
	}
	if _, err := Multiplier(19); !errors.Is(err, ErrTooManyDecimals) {
		t.Fatalf("expected too many decimals, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	mult, _ := Multiplier(6)
	native := uint256.NewInt(1_500_000)
	norm, err := Normalize(native, mult)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if norm.Dec() != "1500000000000000000" {
		t.Fatalf("normalize: %s", norm.Dec())
	}
	if got := DenormalizeDown(norm, mult); !got.Eq(native) {
		t.Fatalf("denormalize down: %s", got.Dec())
	}
	if got := DenormalizeUp(norm, mult); !got.Eq(native) {
		t.Fatalf("denormalize up exact: %s", got.Dec())
	}

	odd := new(uint256.Int).AddUint64(norm, 1)
	if got := DenormalizeDown(odd, mult); !got.Eq(native) {
		t.Fatalf("denormalize down odd: %s", got.Dec())
	}
	if got := DenormalizeUp(odd, mult); got.Uint64() != 1_500_001 {
		t.Fatalf("denormalize up odd: %s", got.Dec())
	}
}

func TestNormalizeOverflow(t *testing.T) {
	mult, _ := Multiplier(0)
	if _, err := Normalize(new(uint256.Int).SetAllOne(), mult); err == nil {
		t.Fatalf("expected overflow")
	}
	if _, err := NormalizeAll([]*uint256.Int{uint256.NewInt(1)}, nil); err == nil {
		t.Fatalf("expected length mismatch")
	}
}
