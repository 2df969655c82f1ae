package protocol

import (
	"errors"
	"os"
	"testing"
)

func words(vs ...uint32) []byte {
	e := NewEncoder()
	for _, v := range vs {
		e.Uint(v)
	}
	return e.Bytes()
}

func TestParserScalars(t *testing.T) {
	e := NewEncoder()
	e.Int(-7)
	e.Uint(42)
	e.Fixed(FixedFromFloat(1.5))
	e.Object(9)
	e.Global(3)

	p := NewParser(e.Bytes(), nil)
	i, err := p.Int()
	if err != nil || i != -7 {
		t.Errorf("Int() = %d, %v; want -7, nil", i, err)
	}
	u, err := p.Uint()
	if err != nil || u != 42 {
		t.Errorf("Uint() = %d, %v; want 42, nil", u, err)
	}
	f, err := p.Fixed()
	if err != nil || f.Float64() != 1.5 {
		t.Errorf("Fixed() = %v, %v; want 1.5, nil", f, err)
	}
	o, err := p.Object()
	if err != nil || o != 9 {
		t.Errorf("Object() = %d, %v; want 9, nil", o, err)
	}
	g, err := p.Global()
	if err != nil || g != 3 {
		t.Errorf("Global() = %d, %v; want 3, nil", g, err)
	}
	if err := p.EOF(); err != nil {
		t.Errorf("EOF() = %v, want nil", err)
	}
}

func TestParserStringRoundTrip(t *testing.T) {
	tests := []string{"", "a", "abc", "abcd", "wl_compositor", "héllo wörld", "日本語テキスト"}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			e := NewEncoder()
			e.Str(s)
			if e.Len()%4 != 0 {
				t.Fatalf("encoded length %d not word aligned", e.Len())
			}
			p := NewParser(e.Bytes(), nil)
			got, err := p.Str()
			if err != nil {
				t.Fatalf("Str() error = %v", err)
			}
			if got != s {
				t.Errorf("Str() = %q, want %q", got, s)
			}
			if err := p.EOF(); err != nil {
				t.Errorf("EOF() = %v, want nil", err)
			}
		})
	}
}

func TestParserStringErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty_length", words(0), ErrEmptyString},
		{"missing_length", []byte{1, 0}, ErrUnexpectedEOF},
		{"truncated_body", words(8, 0x61616161), ErrUnexpectedEOF},
		{"huge_length", words(0xffffffff), ErrUnexpectedEOF},
		{"bad_utf8", append(words(3), 0xff, 0xfe, 0, 0), ErrNonUTF8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewParser(tc.payload, nil)
			_, err := p.Str()
			if !errors.Is(err, tc.want) {
				t.Errorf("Str() error = %v, want %v", err, tc.want)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("Str() error %T is not a *ParseError", err)
			}
		})
	}
}

func TestParserTruncated(t *testing.T) {
	for n := 0; n < 4; n++ {
		p := NewParser(make([]byte, n), nil)
		if _, err := p.Uint(); !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("Uint() on %d bytes error = %v, want ErrUnexpectedEOF", n, err)
		}
		if _, err := p.Fixed(); !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("Fixed() on %d bytes error = %v, want ErrUnexpectedEOF", n, err)
		}
	}
}

func TestParserTrailingData(t *testing.T) {
	p := NewParser(words(1, 2), nil)
	if _, err := p.Uint(); err != nil {
		t.Fatal(err)
	}
	if err := p.EOF(); !errors.Is(err, ErrTrailingData) {
		t.Errorf("EOF() = %v, want ErrTrailingData", err)
	}
	if _, err := p.Uint(); err != nil {
		t.Fatal(err)
	}
	if err := p.EOF(); err != nil {
		t.Errorf("EOF() = %v, want nil", err)
	}
}

func TestParserArray(t *testing.T) {
	e := NewEncoder()
	e.Array([]byte{1, 2, 3, 4, 5})
	p := NewParser(e.Bytes(), nil)
	b, err := p.Array()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 5 || b[4] != 5 {
		t.Errorf("Array() = %v", b)
	}
	if err := p.EOF(); err != nil {
		t.Errorf("EOF() = %v, want nil", err)
	}
}

func TestParserFd(t *testing.T) {
	p := NewParser(nil, nil)
	if _, err := p.Fd(); !errors.Is(err, ErrMissingFd) {
		t.Errorf("Fd() without source error = %v, want ErrMissingFd", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	var q Fds
	p = NewParser(nil, &q)
	if _, err := p.Fd(); !errors.Is(err, ErrMissingFd) {
		t.Errorf("Fd() on empty queue error = %v, want ErrMissingFd", err)
	}
	q.Push(r)
	got, err := p.Fd()
	if err != nil || got != r {
		t.Errorf("Fd() = %v, %v; want queued file", got, err)
	}
	if q.Len() != 0 {
		t.Errorf("queue Len() = %d after pop, want 0", q.Len())
	}
	got.Close()
}

func TestFdsClose(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	var q Fds
	q.Push(r, w)
	q.Close()
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", q.Len())
	}
	if _, err := r.Stat(); err == nil {
		t.Error("file still open after Close")
	}
}

func TestFixed(t *testing.T) {
	tests := []struct {
		in      float64
		raw     Fixed
		integer int32
	}{
		{0, 0, 0},
		{1, 256, 1},
		{1.5, 384, 1},
		{-2, -512, -2},
		{-0.5, -128, -1},
		{0.00390625, 1, 0},
	}

	for _, tc := range tests {
		f := FixedFromFloat(tc.in)
		if f != tc.raw {
			t.Errorf("FixedFromFloat(%v) = %d, want %d", tc.in, f, tc.raw)
		}
		if f.Float64() != tc.in {
			t.Errorf("Fixed(%d).Float64() = %v, want %v", f, f.Float64(), tc.in)
		}
		if f.Int() != tc.integer {
			t.Errorf("Fixed(%d).Int() = %d, want %d", f, f.Int(), tc.integer)
		}
	}
	if FixedFromInt(-3) != FixedFromFloat(-3) {
		t.Error("FixedFromInt(-3) != FixedFromFloat(-3)")
	}
}
