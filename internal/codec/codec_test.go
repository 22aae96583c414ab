package codec

import "testing"

func TestVarLongRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		buf := WriteVarLong(nil, v)
		if len(buf) != VarLongLen(v) {
			t.Fatalf("VarLongLen(%d)=%d, wrote %d bytes", v, VarLongLen(v), len(buf))
		}
		got, n, err := ReadVarLong(buf, 0)
		if err != nil {
			t.Fatalf("ReadVarLong(%d) failed: %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip mismatch: want %d got %d (n=%d, len=%d)", v, got, n, len(buf))
		}
	}
}

func TestReadVarLongTruncated(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80}
	if _, _, err := ReadVarLong(buf, 0); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReadVarLongZero(t *testing.T) {
	buf := WriteVarLong(nil, 0)
	if len(buf) != 1 || buf[0] != 0x00 {
		t.Fatalf("zero should encode as a single 0x00 byte, got %x", buf)
	}
}

func TestFixedRoundTrip(t *testing.T) {
	buf := WriteFixedU64LE(nil, 0x0102030405060708)
	got, err := ReadFixedU64LE(buf, 0)
	if err != nil || got != 0x0102030405060708 {
		t.Fatalf("fixed u64 round trip failed: got %x err %v", got, err)
	}

	fbuf := WriteFixedF64LE(nil, 3.5)
	fgot, err := ReadFixedF64LE(fbuf, 0)
	if err != nil || fgot != 3.5 {
		t.Fatalf("fixed f64 round trip failed: got %v err %v", fgot, err)
	}
}

func TestMapRoundTrip(t *testing.T) {
	m := map[uint64][]byte{
		0: []byte("hello"),
		7: {},
		2: []byte{0xff, 0x00, 0x01},
	}
	buf := WriteMap(nil, m)
	got, n, err := ReadMap(buf, 0)
	if err != nil {
		t.Fatalf("ReadMap failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("ReadMap consumed %d, want %d", n, len(buf))
	}
	if len(got) != len(m) {
		t.Fatalf("ReadMap len mismatch: got %d want %d", len(got), len(m))
	}
	for k, v := range m {
		gv, ok := got[k]
		if !ok || string(gv) != string(v) {
			t.Fatalf("key %d mismatch: got %v want %v", k, gv, v)
		}
	}
}

func TestWriteMapIsDeterministic(t *testing.T) {
	m := map[uint64][]byte{
		5: []byte("e"),
		1: []byte("a"),
		9: []byte("i"),
		3: []byte("c"),
	}
	first := WriteMap(nil, m)
	for i := 0; i < 20; i++ {
		if got := WriteMap(nil, m); string(got) != string(first) {
			t.Fatalf("WriteMap not deterministic across calls on attempt %d:\n got  %x\n want %x", i, got, first)
		}
	}
}

func TestMapToleratesTrailingBytes(t *testing.T) {
	m := map[uint64][]byte{1: []byte("x")}
	buf := WriteMap(nil, m)
	buf = append(buf, 0xde, 0xad, 0xbe, 0xef)
	got, n, err := ReadMap(buf, 0)
	if err != nil {
		t.Fatalf("ReadMap failed: %v", err)
	}
	if n != len(buf)-4 {
		t.Fatalf("ReadMap should stop before trailing bytes, consumed %d want %d", n, len(buf)-4)
	}
	if string(got[1]) != "x" {
		t.Fatalf("unexpected value: %v", got[1])
	}
}

func TestFramerRoundTrip(t *testing.T) {
	f := NewFramer(1024)
	msg1 := []byte("first message")
	msg2 := []byte("second, a bit longer message")

	stream := append(Build(msg1), Build(msg2)...)

	// Feed byte by byte to exercise partial-buffer handling.
	for i := 0; i < len(stream); i++ {
		f.Push(stream[i : i+1])
	}

	if !f.Available() {
		t.Fatalf("expected a message to be available")
	}
	got1 := f.Read()
	if string(got1) != string(msg1) {
		t.Fatalf("first message mismatch: got %q", got1)
	}
	got2 := f.Read()
	if string(got2) != string(msg2) {
		t.Fatalf("second message mismatch: got %q", got2)
	}
	if f.Available() {
		t.Fatalf("no more messages expected")
	}
}

func TestFramerRejectsOversizedLength(t *testing.T) {
	f := NewFramer(4)
	f.Push(Build([]byte("way too long for the cap")))
	if f.Available() {
		t.Fatalf("oversized message should not be surfaced")
	}
}
