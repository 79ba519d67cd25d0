package money

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse_Valid(t *testing.T) {
	cases := []struct {
		input string
		want  Money
	}{
		{"0", 0},
		{"0.01", 1},
		{"500.00", 50000},
		{"-152.62", -15262},
		{"7177.34", 717734},
		{"1230.5", 123050},
	}

	for _, tc := range cases {
		got, err := Parse(tc.input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d cents, want %d", tc.input, got.Cents(), tc.want.Cents())
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{"", "abc", "12.345", "1.001", "--5"}

	for _, input := range cases {
		_, err := Parse(input)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidAmount", input, err)
		}
	}
}

func TestFromFloat_NonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := FromFloat(f)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("FromFloat(%v) error = %v, want ErrInvalidAmount", f, err)
		}
	}
}

func TestFromFloat_RoundsHalfUp(t *testing.T) {
	got, err := FromFloat(1.005)
	if err != nil {
		t.Fatalf("FromFloat failed: %v", err)
	}
	if got != 101 {
		t.Errorf("FromFloat(1.005) = %d cents, want 101", got.Cents())
	}
}

// Penny rounding must be idempotent: re-rounding an already-rounded
// amount never changes it.
func TestRounding_Idempotent(t *testing.T) {
	amounts := []float64{1.005, -1.005, 0.004, 99.999, 708.75}

	for _, f := range amounts {
		once, err := FromFloat(f)
		if err != nil {
			t.Fatalf("FromFloat(%v) failed: %v", f, err)
		}
		twice, err := FromFloat(float64(once.Cents()) / 100)
		if err != nil {
			t.Fatalf("re-round of %v failed: %v", f, err)
		}
		if once != twice {
			t.Errorf("rounding not idempotent for %v: %d != %d", f, once.Cents(), twice.Cents())
		}
	}
}

func TestExtractGST(t *testing.T) {
	rate := decimal.NewFromFloat(0.05) // 5% GST

	cases := []struct {
		gross   Money
		wantGST Money
	}{
		{10500, 500},   // $105.00 -> $5.00 GST
		{0, 0},         // zero gross, zero tax
		{105, 5},       // $1.05 -> $0.05
		{15262, 727},   // $152.62 -> round(726.76...) = $7.27
		{-10500, -500}, // refunds carry negative GST
	}

	for _, tc := range cases {
		gst, net := ExtractGST(tc.gross, rate)
		if gst != tc.wantGST {
			t.Errorf("ExtractGST(%s) gst = %s, want %s", tc.gross, gst, tc.wantGST)
		}
		if gst+net != tc.gross {
			t.Errorf("ExtractGST(%s) gst+net = %s, parts must sum to gross", tc.gross, gst+net)
		}
	}
}

func TestExtractGST_ZeroRate(t *testing.T) {
	gst, net := ExtractGST(10000, decimal.Zero)
	if !gst.IsZero() || net != 10000 {
		t.Errorf("zero rate should return (0, gross); got (%s, %s)", gst, net)
	}
}

func TestArithmetic(t *testing.T) {
	a := FromCents(50000)
	b := FromCents(15262)

	if a.Add(b) != 65262 {
		t.Errorf("Add = %d", a.Add(b).Cents())
	}
	if a.Sub(b) != 34738 {
		t.Errorf("Sub = %d", a.Sub(b).Cents())
	}
	if b.Neg() != -15262 || b.Neg().Abs() != b {
		t.Errorf("Neg/Abs mismatch")
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Errorf("Cmp ordering broken")
	}
	if Sum(a, b, b.Neg()) != a {
		t.Errorf("Sum = %d, want %d", Sum(a, b, b.Neg()).Cents(), a.Cents())
	}
}

func TestString(t *testing.T) {
	cases := map[Money]string{
		0:      "0.00",
		1:      "0.01",
		-15262: "-152.62",
		717734: "7177.34",
	}

	for m, want := range cases {
		if m.String() != want {
			t.Errorf("String(%d) = %q, want %q", m.Cents(), m.String(), want)
		}
	}
}
